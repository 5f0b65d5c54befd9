// Package viewer streams live audience counts from the platform's websocket
// feed into the orchestrator. The feed is optional: when no URL is
// configured the orchestrator simply runs without viewer data.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Default reconnection parameters.
const (
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// update is the wire shape of one feed message.
type update struct {
	ViewerCount int `json:"viewer_count"`
}

// Feed is a websocket client that delivers viewer-count updates at a bounded
// rate. Connection drops are retried with exponential backoff for as long as
// the run context lives.
type Feed struct {
	url      string
	interval time.Duration
	onUpdate func(count int)
}

// NewFeed creates a Feed for url. onUpdate is called from the feed goroutine
// at most once per interval with the latest count.
func NewFeed(url string, interval time.Duration, onUpdate func(count int)) *Feed {
	return &Feed{url: url, interval: interval, onUpdate: onUpdate}
}

// Run connects to the feed and delivers updates until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := defaultBackoff
	for {
		err := f.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("viewer feed disconnected", "url", f.url, "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > defaultMaxBackoff {
			backoff = defaultMaxBackoff
		}
	}
}

// stream runs one websocket connection until it fails or ctx is cancelled.
func (f *Feed) stream(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("viewer: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	slog.Info("viewer feed connected", "url", f.url)

	var lastDelivered time.Time
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("viewer: read: %w", err)
		}

		var u update
		if err := json.Unmarshal(data, &u); err != nil {
			slog.Warn("viewer feed sent malformed message", "error", err)
			continue
		}
		if u.ViewerCount < 0 {
			continue
		}

		// Throttle deliveries so a chatty feed cannot flood the collector.
		if now := time.Now(); now.Sub(lastDelivered) >= f.interval {
			lastDelivered = now
			f.onUpdate(u.ViewerCount)
		}
	}
}
