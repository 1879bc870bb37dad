package templatefmt

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"mapwatch/internal/domain"
)

// Default alert templates used when the user leaves them empty.
const (
	DefaultTitle = "Map alert: {mapname}"
	DefaultBody  = "{servername} switched to {mapname} ({players}/{maxplayers}) matching rule {rulename}"
)

var placeholderPattern = regexp.MustCompile(`\{[A-Za-z]+\}`)

// Values builds the placeholder substitution set for one match.
// Params: matched server, formatted match time, and map image URL.
// Returns: lower-cased token map consumed by Render.
func Values(match domain.MatchedServer, matchTime string, mapImage string) map[string]string {
	return map[string]string{
		"servername": match.ServerName,
		"mapname":    match.Map,
		"players":    strconv.Itoa(match.Players),
		"maxplayers": strconv.Itoa(match.MaxPlayers),
		"address":    match.Address,
		"rulename":   match.RuleName,
		"pattern":    match.Pattern,
		"time":       matchTime,
		"mapimage":   mapImage,
	}
}

// Render substitutes known placeholders in one template string.
// Params: template body and token values from Values.
// Returns: rendered string; tokens are matched case-insensitively and
// unknown tokens are left untouched.
func Render(template string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := strings.ToLower(token[1 : len(token)-1])
		value, ok := values[name]
		if !ok {
			return token
		}
		return value
	})
}

// RenderAlert renders title and body for one match with default fallbacks.
// Params: settings templates, match payload, and match timestamp.
// Returns: rendered title and body strings.
func RenderAlert(settings domain.NotifySettings, match domain.MatchedServer, at time.Time) (string, string) {
	titleTemplate := settings.TitleTemplate
	if strings.TrimSpace(titleTemplate) == "" {
		titleTemplate = DefaultTitle
	}
	bodyTemplate := settings.BodyTemplate
	if strings.TrimSpace(bodyTemplate) == "" {
		bodyTemplate = DefaultBody
	}
	values := Values(match, at.Format("2006-01-02 15:04:05"), MapImageURL(settings, match.Map))
	return Render(titleTemplate, values), Render(bodyTemplate, values)
}

// MapImageURL derives the map preview URL for the {mapimage} placeholder.
// Params: settings with optional image base URL and map name.
// Returns: image URL or empty string when no base is configured.
func MapImageURL(settings domain.NotifySettings, mapName string) string {
	base := strings.TrimSpace(settings.MapImageBaseURL)
	if base == "" || mapName == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + strings.ToLower(mapName) + ".jpg"
}
