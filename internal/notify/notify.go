package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"mapwatch/internal/domain"
	"mapwatch/internal/templatefmt"

	"github.com/gen2brain/beeep"
	tgbot "github.com/go-telegram/bot"
)

// Channel keys in dispatch order.
const (
	ChannelDesktop  = "desktop"
	ChannelDiscord  = "discord"
	ChannelPush     = "push"
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
)

const defaultPushEndpoint = "https://sctapi.ftqq.com"

const defaultSendTimeout = 15 * time.Second

var pushKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ToastFunc shows one in-process toast synchronously.
// Params: rendered alert title and body.
// Returns: nothing; the toast is the guaranteed half of the desktop channel.
type ToastFunc func(title, body string)

// Alert is one rendered notification handed to every channel sender.
// Params: rendered title/body, source match, and resolved map image URL.
// Returns: channel-independent payload.
type Alert struct {
	Title    string
	Body     string
	Match    domain.MatchedServer
	MapImage string
}

// ChannelSender delivers one alert through one transport.
// Params: context, rendered alert, and settings snapshot.
// Returns: delivery error; misconfiguration is marked non-retryable.
type ChannelSender interface {
	Channel() string
	Enabled(settings domain.NotifySettings) bool
	Send(ctx context.Context, alert Alert, settings domain.NotifySettings) error
}

// ChannelStatus is one per-channel test-delivery outcome for the UI.
// Params: channel key and failure detail when delivery failed.
// Returns: status row, never an error to the caller.
type ChannelStatus struct {
	Channel string `json:"channel"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Dispatcher fans one match out across all enabled channels.
// Params: ordered sender list and per-send timeout.
// Returns: best-effort delivery helper; never raises to the cycle.
type Dispatcher struct {
	logger      *slog.Logger
	senders     []ChannelSender
	sendTimeout time.Duration
}

// NewDispatcher builds the dispatcher with the fixed channel order.
// Params: logger and injected in-process toast callback.
// Returns: dispatcher with desktop, discord, push, webhook, telegram senders.
func NewDispatcher(logger *slog.Logger, toast ToastFunc) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: defaultSendTimeout}
	return &Dispatcher{
		logger: logger,
		senders: []ChannelSender{
			&DesktopSender{toast: toast, native: nativeNotify},
			&DiscordSender{client: client},
			&PushSender{client: client},
			&WebhookSender{client: client},
			NewTelegramSender(),
		},
		sendTimeout: defaultSendTimeout,
	}
}

// Dispatch delivers one match to every enabled channel.
// Params: context, matched server, and settings snapshot.
// Returns: nothing; each channel failure is logged and isolated.
func (d *Dispatcher) Dispatch(ctx context.Context, match domain.MatchedServer, settings domain.NotifySettings) {
	alert := buildAlert(match, settings)
	for _, sender := range d.senders {
		if !sender.Enabled(settings) {
			continue
		}
		if err := d.sendOne(ctx, sender, alert, settings); err != nil {
			if IsMisconfigured(err) {
				d.logger.Warn("notify channel misconfigured", "channel", sender.Channel(), "error", err.Error())
				continue
			}
			d.logger.Error("notify channel send failed", "channel", sender.Channel(), "error", err.Error())
		}
	}
}

// TestChannel attempts one synthetic delivery on one channel.
// Params: context, channel key, and settings snapshot.
// Returns: per-channel status row for the settings surface.
func (d *Dispatcher) TestChannel(ctx context.Context, channel string, settings domain.NotifySettings) ChannelStatus {
	sender := d.senderFor(channel)
	if sender == nil {
		return ChannelStatus{Channel: channel, Error: fmt.Sprintf("unknown channel %q", channel)}
	}
	alert := buildAlert(testMatch(time.Now().UTC()), settings)
	if err := d.sendOne(ctx, sender, alert, settings); err != nil {
		return ChannelStatus{Channel: channel, Error: err.Error()}
	}
	return ChannelStatus{Channel: channel, OK: true}
}

// Channels returns the dispatch-ordered channel keys.
// Params: none.
// Returns: static key list.
func (d *Dispatcher) Channels() []string {
	channels := make([]string, 0, len(d.senders))
	for _, sender := range d.senders {
		channels = append(channels, sender.Channel())
	}
	return channels
}

// sendOne runs one channel delivery under the dispatcher send timeout.
// Params: sender, rendered alert, and settings snapshot.
// Returns: delivery error from the sender.
func (d *Dispatcher) sendOne(ctx context.Context, sender ChannelSender, alert Alert, settings domain.NotifySettings) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return sender.Send(sendCtx, alert, settings)
}

// senderFor looks one sender up by channel key.
// Params: channel key.
// Returns: sender or nil when unknown.
func (d *Dispatcher) senderFor(channel string) ChannelSender {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	for _, sender := range d.senders {
		if sender.Channel() == normalized {
			return sender
		}
	}
	return nil
}

// buildAlert renders templates for one match.
// Params: matched server and settings snapshot.
// Returns: rendered channel-independent alert.
func buildAlert(match domain.MatchedServer, settings domain.NotifySettings) Alert {
	title, body := templatefmt.RenderAlert(settings, match, match.MatchedAt)
	return Alert{
		Title:    title,
		Body:     body,
		Match:    match,
		MapImage: templatefmt.MapImageURL(settings, match.Map),
	}
}

// testMatch builds the synthetic match used by channel tests.
// Params: current instant.
// Returns: representative match payload.
func testMatch(now time.Time) domain.MatchedServer {
	return domain.MatchedServer{
		Address:    "127.0.0.1:27015",
		ServerName: "Test Server",
		Map:        "ze_test_v1",
		Players:    12,
		MaxPlayers: 64,
		RuleID:     "test",
		RuleName:   "Channel test",
		Pattern:    "ze_*",
		MatchedAt:  now,
	}
}

// misconfiguredError marks channel failures caused by settings, not transport.
// Params: wrapped root cause.
// Returns: typed marker checked by IsMisconfigured.
type misconfiguredError struct {
	err error
}

// Error returns the wrapped message.
// Params: none.
// Returns: string representation.
func (e misconfiguredError) Error() string {
	if e.err == nil {
		return "channel misconfigured"
	}
	return e.err.Error()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e misconfiguredError) Unwrap() error {
	return e.err
}

// markMisconfigured wraps a settings-level failure.
// Params: source error.
// Returns: wrapped error or nil.
func markMisconfigured(err error) error {
	if err == nil {
		return nil
	}
	return misconfiguredError{err: err}
}

// IsMisconfigured reports whether a channel failure is a settings problem.
// Params: candidate error.
// Returns: true when retrying without a settings change cannot succeed.
func IsMisconfigured(err error) bool {
	var marker misconfiguredError
	return errors.As(err, &marker)
}

// DesktopSender shows the in-process toast plus a native OS notification.
// Params: injected toast callback and native notification function.
// Returns: desktop channel sender.
type DesktopSender struct {
	toast  ToastFunc
	native func(title, body string) error
}

// Channel returns the sender channel key.
// Params: none.
// Returns: static channel key.
func (s *DesktopSender) Channel() string {
	return ChannelDesktop
}

// Enabled reads the desktop channel flag.
// Params: settings snapshot.
// Returns: channel flag value.
func (s *DesktopSender) Enabled(settings domain.NotifySettings) bool {
	return settings.Desktop.Enabled
}

// Send shows the guaranteed toast, then best-effort native notification.
// Params: context, rendered alert, and settings snapshot.
// Returns: nil; native notification failure is silent.
func (s *DesktopSender) Send(_ context.Context, alert Alert, _ domain.NotifySettings) error {
	if s.toast != nil {
		s.toast(alert.Title, alert.Body)
	}
	if s.native != nil {
		// Native OS notification is the best-effort half of the channel.
		_ = s.native(alert.Title, alert.Body)
	}
	return nil
}

// nativeNotify sends one native OS notification.
// Params: alert title and body.
// Returns: platform notification error.
func nativeNotify(title, body string) error {
	return beeep.Notify(title, body, "")
}

// discordEmbed is one Discord webhook embed object.
// Params: rendered alert content and match fields.
// Returns: embed rendered by Discord clients.
type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Image       *discordEmbedImage  `json:"image,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedImage struct {
	URL string `json:"url"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// discordPayload is the Discord webhook request body.
// Params: optional sender identity and embed list.
// Returns: webhook POST payload.
type discordPayload struct {
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Embeds    []discordEmbed `json:"embeds"`
}

// DiscordSender posts alert embeds to a Discord-style webhook.
// Params: shared HTTP client.
// Returns: discord channel sender.
type DiscordSender struct {
	client *http.Client
}

// Channel returns the sender channel key.
// Params: none.
// Returns: static channel key.
func (s *DiscordSender) Channel() string {
	return ChannelDiscord
}

// Enabled reads the discord channel flag.
// Params: settings snapshot.
// Returns: channel flag value.
func (s *DiscordSender) Enabled(settings domain.NotifySettings) bool {
	return settings.Discord.Enabled
}

// Send posts one embed to the configured webhook URL.
// Params: context, rendered alert, and settings snapshot.
// Returns: transport or HTTP status error.
func (s *DiscordSender) Send(ctx context.Context, alert Alert, settings domain.NotifySettings) error {
	webhookURL := strings.TrimSpace(settings.Discord.WebhookURL)
	if webhookURL == "" {
		return markMisconfigured(errors.New("discord webhook_url is required"))
	}

	embed := discordEmbed{
		Title:       alert.Title,
		Description: alert.Body,
		Color:       0x5865F2,
		Timestamp:   alert.Match.MatchedAt.UTC().Format(time.RFC3339),
		Fields: []discordEmbedField{
			{Name: "Map", Value: alert.Match.Map, Inline: true},
			{Name: "Players", Value: fmt.Sprintf("%d/%d", alert.Match.Players, alert.Match.MaxPlayers), Inline: true},
			{Name: "Address", Value: alert.Match.Address, Inline: true},
		},
	}
	if alert.MapImage != "" {
		embed.Image = &discordEmbedImage{URL: alert.MapImage}
	}
	payload := discordPayload{
		Username:  strings.TrimSpace(settings.Discord.Username),
		AvatarURL: strings.TrimSpace(settings.Discord.AvatarURL),
		Embeds:    []discordEmbed{embed},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode discord payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("discord", response)
	}
	return nil
}

// PushSender delivers alerts through a key-based push service.
// Params: shared HTTP client.
// Returns: push channel sender.
type PushSender struct {
	client *http.Client
}

// Channel returns the sender channel key.
// Params: none.
// Returns: static channel key.
func (s *PushSender) Channel() string {
	return ChannelPush
}

// Enabled reads the push channel flag.
// Params: settings snapshot.
// Returns: channel flag value.
func (s *PushSender) Enabled(settings domain.NotifySettings) bool {
	return settings.Push.Enabled
}

// Send posts title/body as a form to the key-scoped push endpoint.
// Params: context, rendered alert, and settings snapshot.
// Returns: local misconfiguration error for a non-alphanumeric key
// (no network call) or transport/status error.
func (s *PushSender) Send(ctx context.Context, alert Alert, settings domain.NotifySettings) error {
	key := strings.TrimSpace(settings.Push.Key)
	if !pushKeyPattern.MatchString(key) {
		return markMisconfigured(errors.New("push key must be alphanumeric"))
	}

	endpoint := strings.TrimSpace(settings.Push.Endpoint)
	if endpoint == "" {
		endpoint = defaultPushEndpoint
	}
	target := strings.TrimRight(endpoint, "/") + "/" + key + ".send"

	form := url.Values{}
	form.Set("title", alert.Title)
	form.Set("desp", alert.Body)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("push", response)
	}
	return nil
}

// webhookBody is the generic webhook JSON payload.
// Params: rendered alert and match fields.
// Returns: POST body for custom receivers.
type webhookBody struct {
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ServerName string    `json:"server_name"`
	Address    string    `json:"address"`
	Map        string    `json:"map"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"max_players"`
	RuleName   string    `json:"rule_name"`
	Pattern    string    `json:"pattern"`
	MapImage   string    `json:"map_image,omitempty"`
	MatchedAt  time.Time `json:"matched_at"`
}

// WebhookSender posts alert JSON to a user-defined endpoint.
// Params: shared HTTP client.
// Returns: generic webhook sender.
type WebhookSender struct {
	client *http.Client
}

// Channel returns the sender channel key.
// Params: none.
// Returns: static channel key.
func (s *WebhookSender) Channel() string {
	return ChannelWebhook
}

// Enabled reads the webhook channel flag.
// Params: settings snapshot.
// Returns: channel flag value.
func (s *WebhookSender) Enabled(settings domain.NotifySettings) bool {
	return settings.Webhook.Enabled
}

// Send delivers the JSON payload with configured method and headers.
// Params: context, rendered alert, and settings snapshot.
// Returns: transport or HTTP status error.
func (s *WebhookSender) Send(ctx context.Context, alert Alert, settings domain.NotifySettings) error {
	targetURL := strings.TrimSpace(settings.Webhook.URL)
	if targetURL == "" {
		return markMisconfigured(errors.New("webhook url is required"))
	}

	body, err := json.Marshal(webhookBody{
		Title:      alert.Title,
		Body:       alert.Body,
		ServerName: alert.Match.ServerName,
		Address:    alert.Match.Address,
		Map:        alert.Match.Map,
		Players:    alert.Match.Players,
		MaxPlayers: alert.Match.MaxPlayers,
		RuleName:   alert.Match.RuleName,
		Pattern:    alert.Match.Pattern,
		MapImage:   alert.MapImage,
		MatchedAt:  alert.Match.MatchedAt,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(settings.Webhook.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range settings.Webhook.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("webhook", response)
	}
	return nil
}

// TelegramSender posts alerts to the Telegram Bot API.
// Params: cached bot client keyed by token.
// Returns: telegram channel sender.
type TelegramSender struct {
	mu        sync.Mutex
	bot       *tgbot.Bot
	botToken  string
	botAPIURL string
}

// NewTelegramSender creates the telegram sender with an empty client cache.
// Params: none.
// Returns: initialized sender; the bot client is built lazily per settings.
func NewTelegramSender() *TelegramSender {
	return &TelegramSender{}
}

// Channel returns the sender channel key.
// Params: none.
// Returns: static channel key.
func (s *TelegramSender) Channel() string {
	return ChannelTelegram
}

// Enabled reads the telegram channel flag.
// Params: settings snapshot.
// Returns: channel flag value.
func (s *TelegramSender) Enabled(settings domain.NotifySettings) bool {
	return settings.Telegram.Enabled
}

// Send posts one message to the configured chat.
// Params: context, rendered alert, and settings snapshot.
// Returns: misconfiguration or Telegram API error.
func (s *TelegramSender) Send(ctx context.Context, alert Alert, settings domain.NotifySettings) error {
	botClient, err := s.clientFor(settings.Telegram)
	if err != nil {
		return err
	}

	_, err = botClient.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: normalizeChatID(settings.Telegram.ChatID),
		Text:   alert.Title + "\n" + alert.Body,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// clientFor returns the cached bot client, rebuilding it on token change.
// Params: telegram channel settings.
// Returns: bot client or misconfiguration error.
func (s *TelegramSender) clientFor(cfg domain.TelegramChannel) (*tgbot.Bot, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, markMisconfigured(errors.New("telegram bot_token is required"))
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, markMisconfigured(errors.New("telegram chat_id is required"))
	}
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot != nil && s.botToken == token && s.botAPIURL == apiBase {
		return s.bot, nil
	}
	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if apiBase != "" {
		options = append(options, tgbot.WithServerURL(apiBase))
	}
	botClient, err := tgbot.New(token, options...)
	if err != nil {
		return nil, markMisconfigured(fmt.Errorf("init telegram bot: %w", err))
	}
	s.bot = botClient
	s.botToken = token
	s.botAPIURL = apiBase
	return botClient, nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps the rest.
// Params: configured chat ID value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// unexpectedHTTPStatusError formats a non-2xx HTTP response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	rawBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
