package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 50 * time.Second
	maxBackoff       = 30 * time.Second
)

// Consumer dials the gateway websocket and feeds decoded voice-state
// events to the handler, reconnecting with capped backoff.
type Consumer struct {
	URL     string
	Token   string
	Handler Handler

	dialer *websocket.Dialer
}

func NewConsumer(url, token string, handler Handler) *Consumer {
	return &Consumer{
		URL:     url,
		Token:   token,
		Handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Run blocks until the context is canceled.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second

	for {
		start := time.Now()
		err := c.consume(ctx)
		lived := time.Since(start)
		if err != nil {
			zap.L().Warn("gateway connection lost",
				zap.String("url", c.URL),
				zap.Duration("retry_in", backoff),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff = nextRetryDelay(backoff, lived)
	}
}

// nextRetryDelay doubles the delay while dials keep failing quickly and
// drops back to one second once a connection survived the handshake.
func nextRetryDelay(previous, connectedFor time.Duration) time.Duration {
	if connectedFor > handshakeTimeout {
		return time.Second
	}
	next := previous * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

func (c *Consumer) consume(ctx context.Context) (err error) {
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}

	var conn *websocket.Conn
	if conn, _, err = c.dialer.DialContext(ctx, c.URL, header); err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	zap.L().Info("gateway connected", zap.String("url", c.URL))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Close the connection when the context ends so the read loop
	// unblocks, and keep the server's idle timer fed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		var ev VoiceState
		if err = conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				err = nil
			}
			return
		}

		c.Handler(ctx, ev)
	}
}
