// Package events publishes match events to NATS for external consumers.
package events

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mapwatch/internal/domain"

	"github.com/nats-io/nats.go"
)

const matchStreamMaxAge = 24 * time.Hour

// MatchEvent is one published rule-match record.
// Params: match payload plus publish timestamp.
// Returns: JSON event consumed by downstream subscribers.
type MatchEvent struct {
	Match       domain.MatchedServer `json:"match"`
	PublishedAt time.Time            `json:"published_at"`
}

// Publisher emits match events.
// Params: context and matched server payload.
// Returns: publish error.
type Publisher interface {
	PublishMatch(ctx context.Context, match domain.MatchedServer) error
	Close() error
}

// Config carries NATS publisher connection settings.
// Params: server URL and stream/subject names.
// Returns: publisher setup inputs.
type Config struct {
	URL     string
	Stream  string
	Subject string
}

// NATSPublisher publishes match events into a JetStream stream.
// Params: NATS connection and publish subject.
// Returns: Publisher implementation.
type NATSPublisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATSPublisher connects to NATS and ensures the match event stream.
// Params: publisher config.
// Returns: initialized publisher or setup error.
func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect events nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for events: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js, subject: cfg.Subject}, nil
}

// PublishMatch publishes one match event with a deterministic message id.
// Params: context and matched server payload.
// Returns: encode or publish error.
func (p *NATSPublisher) PublishMatch(ctx context.Context, match domain.MatchedServer) error {
	event := MatchEvent{Match: match, PublishedAt: time.Now().UTC()}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal match event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = body
	msg.Header.Set("Nats-Msg-Id", EventID(match))
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish match event: %w", err)
	}
	return nil
}

// Close closes the publisher NATS connection.
// Params: none.
// Returns: nil after connection close.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}

// EventID creates a deterministic id for one match event.
// Params: matched server payload.
// Returns: stable SHA1-based id used for broker-side dedup.
func EventID(match domain.MatchedServer) string {
	raw := fmt.Sprintf(
		"%s|%s|%s|%d",
		match.RuleID,
		match.Address,
		match.Map,
		match.MatchedAt.UnixNano(),
	)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ensureStream ensures the match event stream exists.
// Params: JetStream context and stream/subject names.
// Returns: stream create/lookup error.
func ensureStream(js nats.JetStreamContext, streamName, subject string) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if err != nats.ErrStreamNotFound && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    matchStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
