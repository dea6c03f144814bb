// Package gotify talks to a Gotify-compatible push notification server.
package gotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/fedisync/internal/apiclient"
	"github.com/JakeFAU/fedisync/internal/credential"
)

const (
	defaultReconnectDelay = 2 * time.Second
	defaultDialAttempts   = 5
	pageSize              = 100
)

// Message is a push message as stored by the server.
type Message struct {
	ID       int64     `json:"id"`
	AppID    int64     `json:"appid"`
	Message  string    `json:"message"`
	Title    string    `json:"title"`
	Priority int       `json:"priority"`
	Date     time.Time `json:"date"`
}

// Paging describes the position of a page of messages.
type Paging struct {
	Size  int    `json:"size"`
	Since int64  `json:"since"`
	Limit int    `json:"limit"`
	Next  string `json:"next,omitempty"`
}

// PagedMessages is one page of an application's messages.
type PagedMessages struct {
	Messages []Message `json:"messages"`
	Paging   Paging    `json:"paging"`
}

type createMessageRequest struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

// Config locates the server. ClientToken falls back to AppToken when empty.
type Config struct {
	URI            string
	AppToken       string
	ClientToken    string
	ReconnectDelay time.Duration
	DialAttempts   uint
}

// Client wraps the message, application and stream endpoints.
type Client struct {
	app            *apiclient.Client
	user           *apiclient.Client
	streamURL      string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	dialAttempts   uint
	logger         *zap.Logger
}

// New validates cfg and builds a Client. opts apply to both REST clients.
func New(cfg Config, logger *zap.Logger, opts ...apiclient.Option) (*Client, error) {
	if strings.TrimSpace(cfg.URI) == "" || strings.TrimSpace(cfg.AppToken) == "" {
		return nil, errors.New("gotify uri and app token are required")
	}
	clientToken := cfg.ClientToken
	if strings.TrimSpace(clientToken) == "" {
		clientToken = cfg.AppToken
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app, err := apiclient.New(cfg.URI, append(append([]apiclient.Option{}, opts...),
		apiclient.WithAuthenticator(credential.Static{Token: cfg.AppToken}))...)
	if err != nil {
		return nil, fmt.Errorf("build gotify app client: %w", err)
	}
	user, err := apiclient.New(cfg.URI, append(append([]apiclient.Option{}, opts...),
		apiclient.WithAuthenticator(credential.Static{Token: clientToken}))...)
	if err != nil {
		return nil, fmt.Errorf("build gotify client: %w", err)
	}
	streamURL, err := buildStreamURL(user.BaseURL(), clientToken)
	if err != nil {
		return nil, err
	}

	c := &Client{
		app:            app,
		user:           user,
		streamURL:      streamURL,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: cfg.ReconnectDelay,
		dialAttempts:   cfg.DialAttempts,
		logger:         logger,
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = defaultReconnectDelay
	}
	if c.dialAttempts == 0 {
		c.dialAttempts = defaultDialAttempts
	}
	return c, nil
}

// CreateMessage posts a message for the application owning the app token.
func (c *Client) CreateMessage(ctx context.Context, title, body string, priority int) (Message, error) {
	msg, err := apiclient.Post[Message](ctx, c.app, "message", createMessageRequest{
		Title:    title,
		Message:  body,
		Priority: priority,
	})
	if err != nil {
		return Message{}, fmt.Errorf("create gotify message: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes one message by its server id.
func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	if err := c.user.Delete(ctx, "message/"+strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("delete gotify message %d: %w", id, err)
	}
	return nil
}

// DeleteApplicationMessages removes every message of an application.
func (c *Client) DeleteApplicationMessages(ctx context.Context, appID int64) error {
	if err := c.user.Delete(ctx, applicationMessages(appID)); err != nil {
		return fmt.Errorf("delete gotify messages of application %d: %w", appID, err)
	}
	return nil
}

// ApplicationMessages returns every message of an application, newest first.
func (c *Client) ApplicationMessages(ctx context.Context, appID int64) ([]Message, error) {
	messages := []Message{}
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	for {
		page, err := apiclient.Get[PagedMessages](ctx, c.user, applicationMessages(appID), query)
		if err != nil {
			return nil, fmt.Errorf("list gotify messages of application %d: %w", appID, err)
		}
		messages = append(messages, page.Messages...)
		if page.Paging.Next == "" || page.Paging.Since <= 0 || len(page.Messages) == 0 {
			return messages, nil
		}
		query.Set("since", strconv.FormatInt(page.Paging.Since, 10))
	}
}

// Stream delivers inbound messages of appID to handle until ctx is done,
// reconnecting after every disconnect. It returns at once for a
// non-positive appID.
func (c *Client) Stream(ctx context.Context, appID int64, handle func(Message)) {
	if appID <= 0 {
		c.logger.Debug("gotify stream needs an application id", zap.Int64("app_id", appID))
		return
	}
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("gotify stream unavailable", zap.Error(err))
		} else {
			err = c.consume(ctx, conn, appID, handle)
			if ctx.Err() != nil {
				return
			}
			c.logger.Info("gotify stream disconnected", zap.Error(err))
		}

		timer := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.Do(
		func() error {
			ws, _, err := c.dialer.DialContext(ctx, c.streamURL, nil)
			if err != nil {
				return fmt.Errorf("dial gotify stream: %w", err)
			}
			conn = ws
			return nil
		},
		retry.Attempts(c.dialAttempts),
		retry.Delay(c.reconnectDelay),
		retry.MaxDelay(time.Minute),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying gotify stream dial", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) consume(ctx context.Context, conn *websocket.Conn, appID int64, handle func(Message)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close() //nolint:errcheck // closing a dead connection

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read gotify stream: %w", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("skipping undecodable gotify frame", zap.Error(err))
			continue
		}
		if msg.AppID != appID {
			continue
		}
		handle(msg)
	}
}

func applicationMessages(appID int64) string {
	return "application/" + strconv.FormatInt(appID, 10) + "/message"
}

func buildStreamURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse gotify uri: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
