package gatewayclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-session/internal/live/session"
	"live-session/internal/models"
)

const feedBuffer = 64

// Feed is an open change-feed socket that redials after a drop.
type Feed struct {
	client    *Client
	sessionID string
	events    chan models.FeedEvent
	cancel    context.CancelFunc
	done      chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// Subscribe dials the session feed. The first dial is synchronous so
// membership errors surface to the caller.
func (c *Client) Subscribe(ctx context.Context, sessionID string) (session.Subscription, error) {
	conn, err := c.dialFeed(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		client:    c,
		sessionID: sessionID,
		events:    make(chan models.FeedEvent, feedBuffer),
		cancel:    cancel,
		done:      make(chan struct{}),
		conn:      conn,
	}
	go f.run(runCtx)
	return f, nil
}

func (c *Client) feedURL(sessionID string) string {
	u := c.base.JoinPath("/ws/sessions/" + sessionID)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

func (c *Client) dialFeed(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("X-Participant-ID", c.participantID)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.feedURL(sessionID), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(readError(resp.Body))}
		}
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	return conn, nil
}

// Events delivers feed events in arrival order.
func (f *Feed) Events() <-chan models.FeedEvent { return f.events }

// Close stops the feed and closes the socket.
func (f *Feed) Close() error {
	f.cancel()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	<-f.done
	return err
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	defer close(f.events)
	logger := f.client.logger.With(zap.String("session_id", f.sessionID))

	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()

		f.read(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("feed dropped, reconnecting")

		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0
		next, err := backoff.RetryNotifyWithData(func() (*websocket.Conn, error) {
			conn, err := f.client.dialFeed(ctx, f.sessionID)
			if apiErr, ok := err.(*APIError); ok && apiErr.Status < http.StatusInternalServerError {
				return nil, backoff.Permanent(err)
			}
			return conn, err
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			logger.Debug("feed redial failed", zap.Duration("wait", wait), zap.Error(err))
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("feed closed", zap.Error(err))
			}
			return
		}

		f.mu.Lock()
		if ctx.Err() != nil {
			f.mu.Unlock()
			_ = next.Close()
			return
		}
		f.conn = next
		f.mu.Unlock()
	}
}

func (f *Feed) read(ctx context.Context, conn *websocket.Conn) {
	for {
		var ev models.FeedEvent
		if err := conn.ReadJSON(&ev); err != nil {
			_ = conn.Close()
			return
		}
		select {
		case f.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
