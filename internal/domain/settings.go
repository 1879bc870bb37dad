package domain

// NotifySettings is the process-wide notification channel configuration.
// Params: per-channel enable flags, credentials, and alert templates.
// Returns: immutable snapshot passed into every dispatch.
type NotifySettings struct {
	Desktop  DesktopChannel  `toml:"desktop" json:"desktop"`
	Discord  DiscordChannel  `toml:"discord" json:"discord"`
	Push     PushChannel     `toml:"push" json:"push"`
	Webhook  WebhookChannel  `toml:"webhook" json:"webhook"`
	Telegram TelegramChannel `toml:"telegram" json:"telegram"`

	// TitleTemplate and BodyTemplate support placeholder substitution:
	// {servername} {mapname} {players} {maxplayers} {address} {rulename}
	// {pattern} {time} {mapimage}. Empty values fall back to defaults.
	TitleTemplate   string `toml:"title_template" json:"title_template"`
	BodyTemplate    string `toml:"body_template" json:"body_template"`
	MapImageBaseURL string `toml:"map_image_base_url" json:"map_image_base_url"`
}

// Clone deep-copies the settings including the webhook header map.
// Params: none.
// Returns: independent snapshot safe to hand across goroutines.
func (s NotifySettings) Clone() NotifySettings {
	cloned := s
	if s.Webhook.Headers != nil {
		headers := make(map[string]string, len(s.Webhook.Headers))
		for key, value := range s.Webhook.Headers {
			headers[key] = value
		}
		cloned.Webhook.Headers = headers
	}
	return cloned
}

// DesktopChannel configures the in-process toast plus native notification.
// Params: enable flag only; toast plumbing is injected by the caller.
// Returns: desktop channel settings.
type DesktopChannel struct {
	Enabled bool `toml:"enabled" json:"enabled"`
}

// DiscordChannel configures a Discord-style webhook target.
// Params: webhook URL and optional sender identity.
// Returns: discord channel settings.
type DiscordChannel struct {
	Enabled    bool   `toml:"enabled" json:"enabled"`
	WebhookURL string `toml:"webhook_url" json:"webhook_url"`
	Username   string `toml:"username" json:"username"`
	AvatarURL  string `toml:"avatar_url" json:"avatar_url"`
}

// PushChannel configures the key-based push target (ServerChan compatible).
// Params: push key and optional endpoint override.
// Returns: push channel settings.
type PushChannel struct {
	Enabled  bool   `toml:"enabled" json:"enabled"`
	Key      string `toml:"key" json:"key"`
	Endpoint string `toml:"endpoint" json:"endpoint"`
}

// WebhookChannel configures the generic custom webhook target.
// Params: URL, HTTP method, and extra headers.
// Returns: webhook channel settings.
type WebhookChannel struct {
	Enabled bool              `toml:"enabled" json:"enabled"`
	URL     string            `toml:"url" json:"url"`
	Method  string            `toml:"method" json:"method"`
	Headers map[string]string `toml:"headers" json:"headers"`
}

// TelegramChannel configures the Telegram bot target.
// Params: bot token, chat id, and optional API base override.
// Returns: telegram channel settings.
type TelegramChannel struct {
	Enabled  bool   `toml:"enabled" json:"enabled"`
	BotToken string `toml:"bot_token" json:"bot_token"`
	ChatID   string `toml:"chat_id" json:"chat_id"`
	APIBase  string `toml:"api_base" json:"api_base"`
}
