package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Watch subscribes to the backend's job event stream. Every message received becomes a
// hint on the returned channel; hints are coalesced and never block the reader.
// The channel is closed when the connection ends or ctx is done.
func Watch(ctx context.Context, endpoint string, logger *slog.Logger) (<-chan struct{}, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Convert HTTP endpoint to WebSocket endpoint
	wsEndpoint := strings.Replace(endpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse watch endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }

	hints := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	go func() {
		defer close(hints)
		defer close(done)
		defer closeConn()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if ctx.Err() == nil {
					logger.Info("status watch closed, polling continues", "error", err)
				}
				return
			}
			select {
			case hints <- struct{}{}:
			default:
			}
		}
	}()

	logger.Debug("status watch connected", "endpoint", u.String())
	return hints, nil
}
