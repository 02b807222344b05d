// Package gatewayclient talks to the live-session REST API and feed socket
// on behalf of one participant.
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"live-session/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Unwrap maps well-known statuses onto sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusForbidden:
		return ErrForbidden
	}
	return nil
}

// Config configures a Client.
type Config struct {
	BaseURL         string
	ParticipantID   string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
}

// Client is a REST client for one participant.
type Client struct {
	http          *http.Client
	base          *url.URL
	participantID string
	retryMax      time.Duration
	logger        *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.ParticipantID == "" {
		return nil, errors.New("participant id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		http:          &http.Client{Transport: tr, Timeout: cfg.Timeout},
		base:          base,
		participantID: cfg.ParticipantID,
		retryMax:      cfg.RetryMaxElapsed,
		logger:        logger,
	}, nil
}

// ParticipantID returns the identity the client acts as.
func (c *Client) ParticipantID() string { return c.participantID }

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends one request. Idempotent methods are retried with exponential
// backoff on transport errors and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	target := c.endpoint(path, query)

	operation := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Participant-ID", c.participantID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode, Message: readError(resp.Body)}
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	if method != http.MethodGet && method != http.MethodPut {
		err := operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.retryMax
	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.Warn("retrying request", zap.String("method", method), zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
	})
}

func readError(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return string(raw)
}

func sessionPath(sessionID string, parts ...string) string {
	path := "/sessions/" + url.PathEscape(sessionID)
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}

// ListMessagesBefore fetches one history page, newest first.
func (c *Client) ListMessagesBefore(ctx context.Context, conversationID string, before *time.Time, limit int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != nil {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(conversationID, "messages"), q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// CreateMessage posts a message.
func (c *Client) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPost, sessionPath(msg.ConversationID, "messages"), nil, msg, &out)
	return out, err
}

// DeleteMessage soft deletes one of the caller's messages.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(conversationID, "messages", messageID), nil, nil, nil)
}

// MarkRead zeroes the caller's unread counter.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(conversationID, "read"), nil, nil, nil)
}

// GetReadState returns the caller's read marker.
func (c *Client) GetReadState(ctx context.Context, sessionID string) (models.ReadState, error) {
	var out models.ReadState
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "read"), nil, nil, &out)
	return out, err
}

// UpsertTyping publishes the caller's typing flag. The server stamps the time.
func (c *Client) UpsertTyping(ctx context.Context, conversationID string, entry models.TypingEntry) error {
	body := map[string]bool{"is_typing": entry.IsTyping}
	return c.do(ctx, http.MethodPut, sessionPath(conversationID, "typing"), nil, body, nil)
}

// Join adds the caller to the session roster.
func (c *Client) Join(ctx context.Context, sessionID, displayName string, role models.Role) (models.Participant, error) {
	var out models.Participant
	body := map[string]any{"display_name": displayName, "role": role}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "join"), nil, body, &out)
	return out, err
}

// ListParticipants returns the roster.
func (c *Client) ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	var resp struct {
		Participants []models.Participant `json:"participants"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "participants"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

// UpdateParticipantRole changes a participant's role.
func (c *Client) UpdateParticipantRole(ctx context.Context, sessionID, userID string, role models.Role) (models.Participant, error) {
	var out models.Participant
	body := map[string]models.Role{"role": role}
	err := c.do(ctx, http.MethodPatch, sessionPath(sessionID, "participants", userID, "role"), nil, body, &out)
	return out, err
}

// ListInvitations returns the pending invitations.
func (c *Client) ListInvitations(ctx context.Context, sessionID string) ([]models.Invitation, error) {
	var resp struct {
		Invitations []models.Invitation `json:"invitations"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "invitations"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Invitations, nil
}

// CreateInvitation sends a guest invitation or a join request.
func (c *Client) CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error) {
	body := map[string]any{
		"invitee_id":    inv.InviteeID,
		"kind":          inv.Kind,
		"session_title": inv.SessionTitle,
	}
	if !inv.ExpiresAt.IsZero() {
		body["expires_at"] = inv.ExpiresAt.UTC()
	}
	var out models.Invitation
	err := c.do(ctx, http.MethodPost, sessionPath(inv.SessionID, "invitations"), nil, body, &out)
	return out, err
}

// UpdateInvitationStatus applies a conditional status transition.
func (c *Client) UpdateInvitationStatus(ctx context.Context, sessionID, invitationID string, from, to models.InvitationStatus) (models.Invitation, error) {
	var out models.Invitation
	body := map[string]models.InvitationStatus{"from": from, "to": to}
	err := c.do(ctx, http.MethodPatch, sessionPath(sessionID, "invitations", invitationID), nil, body, &out)
	return out, err
}
