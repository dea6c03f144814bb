// Package notify records operational events for the operator and mirrors
// them to a Gotify-compatible push service when one is configured.
//
// The service is configured entirely through settings (GotifyUri,
// GotifyAppToken, GotifyClientToken, GotifyAppId, GotifyMinPriority), which
// are re-read on every call so operators can change them at runtime.
package notify

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/fedisync/internal/apiclient"
	"github.com/JakeFAU/fedisync/internal/clock"
	"github.com/JakeFAU/fedisync/internal/metrics"
	"github.com/JakeFAU/fedisync/internal/notify/gotify"
	"github.com/JakeFAU/fedisync/internal/settings"
)

const (
	// DefaultMinPriority forwards Information and above.
	DefaultMinPriority = 2
	defaultAppID       = -1
)

// Notification is one operator-facing event.
type Notification struct {
	ID         int64     `json:"id"`
	ExternalID *int64    `json:"external_id,omitempty"`
	AppID      int64     `json:"app_id,omitempty"`
	Date       time.Time `json:"date"`
	Severity   Severity  `json:"severity"`
	Priority   int       `json:"priority"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
}

// Remote is the subset of the push service used by Dispatcher.
type Remote interface {
	CreateMessage(ctx context.Context, title, body string, priority int) (gotify.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	DeleteApplicationMessages(ctx context.Context, appID int64) error
	ApplicationMessages(ctx context.Context, appID int64) ([]gotify.Message, error)
	Stream(ctx context.Context, appID int64, handle func(gotify.Message))
}

// RemoteFactory builds a Remote for the current settings.
type RemoteFactory func(cfg gotify.Config, logger *zap.Logger) (Remote, error)

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRemoteFactory replaces the Gotify client constructor.
func WithRemoteFactory(f RemoteFactory) Option {
	return func(d *Dispatcher) {
		if f != nil {
			d.newRemote = f
		}
	}
}

// WithClientOptions applies opts to the Gotify REST clients.
func WithClientOptions(opts ...apiclient.Option) Option {
	return func(d *Dispatcher) {
		d.clientOpts = append(d.clientOpts, opts...)
	}
}

type remoteConfig struct {
	uri         string
	appToken    string
	clientToken string
	appID       int64
	minPriority int
}

func (c remoteConfig) configured() bool {
	return strings.TrimSpace(c.uri) != "" && strings.TrimSpace(c.appToken) != ""
}

// Dispatcher stores notifications in memory and forwards them.
type Dispatcher struct {
	settings   settings.Reader
	clock      clock.Clock
	logger     *zap.Logger
	newRemote  RemoteFactory
	clientOpts []apiclient.Option

	mu    sync.Mutex
	seq   int64
	items []Notification

	listenersMu sync.RWMutex
	listeners   map[uuid.UUID]func(Notification)

	remoteMu  sync.Mutex
	remote    Remote
	remoteKey remoteConfig
}

// New builds a Dispatcher reading its configuration from store.
func New(store settings.Reader, clk clock.Clock, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	d := &Dispatcher{
		settings:  store,
		clock:     clk,
		logger:    logger,
		listeners: make(map[uuid.UUID]func(Notification)),
	}
	d.newRemote = d.gotifyRemote
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Push logs the event, then stores and forwards it unless a suppression
// token matches. It never fails the caller.
func (d *Dispatcher) Push(ctx context.Context, title, body string, severity Severity) {
	d.log(title, body, severity)

	if d.suppressed(ctx, title, body) {
		metrics.ObserveNotification(severity.String(), "suppressed")
		return
	}

	d.mu.Lock()
	d.seq++
	n := Notification{
		ID:       d.seq,
		Date:     d.clock.Now(),
		Severity: severity,
		Priority: PriorityFor(severity),
		Title:    title,
		Body:     body,
	}
	d.items = append(d.items, n)
	d.mu.Unlock()
	metrics.ObserveNotification(severity.String(), "stored")

	d.notifyListeners(n)

	remote, cfg := d.remoteFor(ctx)
	if remote == nil || n.Priority < cfg.minPriority {
		return
	}
	msg, err := remote.CreateMessage(ctx, title, body, n.Priority)
	if err != nil {
		metrics.ObserveNotification(severity.String(), "forward_failed")
		d.logger.Warn("forward notification failed", zap.Int64("id", n.ID), zap.Error(err))
		return
	}
	metrics.ObserveNotification(severity.String(), "forwarded")
	d.attachExternal(n.ID, msg)
}

// Delete removes a notification by local id or by push service id. A
// forwarded local entry is also deleted remotely, and a remote delete drops
// the local entry it was forwarded from. Zero ids are ignored. Deleting an
// unknown id is a no-op.
func (d *Dispatcher) Delete(ctx context.Context, localID, externalID int64) {
	d.mu.Lock()
	idx := slices.IndexFunc(d.items, func(n Notification) bool {
		if localID > 0 {
			return n.ID == localID
		}
		return externalID > 0 && n.ExternalID != nil && *n.ExternalID == externalID
	})
	if idx >= 0 {
		if externalID <= 0 && d.items[idx].ExternalID != nil {
			externalID = *d.items[idx].ExternalID
		}
		d.items = slices.Delete(d.items, idx, idx+1)
	}
	d.mu.Unlock()

	if externalID <= 0 {
		return
	}
	remote, _ := d.remoteFor(ctx)
	if remote == nil {
		return
	}
	if err := remote.DeleteMessage(ctx, externalID); err != nil {
		d.logger.Warn("delete remote notification failed", zap.Int64("external_id", externalID), zap.Error(err))
	}
}

// DeleteAll clears the local store and the application's remote messages.
func (d *Dispatcher) DeleteAll(ctx context.Context) {
	d.mu.Lock()
	d.items = nil
	d.mu.Unlock()

	remote, cfg := d.remoteFor(ctx)
	if remote == nil || cfg.appID <= 0 {
		return
	}
	if err := remote.DeleteApplicationMessages(ctx, cfg.appID); err != nil {
		d.logger.Warn("delete remote notifications failed", zap.Int64("app_id", cfg.appID), zap.Error(err))
	}
}

// List returns notifications newest first. The push service is the source
// of truth when configured with an application id; a failed fetch yields an
// empty list.
func (d *Dispatcher) List(ctx context.Context) []Notification {
	remote, cfg := d.remoteFor(ctx)
	if remote != nil && cfg.appID > 0 {
		messages, err := remote.ApplicationMessages(ctx, cfg.appID)
		if err != nil {
			d.logger.Warn("list remote notifications failed", zap.Int64("app_id", cfg.appID), zap.Error(err))
			return []Notification{}
		}
		out := make([]Notification, 0, len(messages))
		for _, m := range messages {
			out = append(out, fromMessage(m))
		}
		return out
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Notification, 0, len(d.items))
	for i := len(d.items) - 1; i >= 0; i-- {
		out = append(out, d.items[i])
	}
	return out
}

// Subscribe delivers new notifications to fn until ctx is done. With a push
// service and an application id configured it streams that application's
// messages, reconnecting as needed; otherwise fn runs on every local Push.
func (d *Dispatcher) Subscribe(ctx context.Context, fn func(Notification)) {
	if remote, cfg := d.remoteFor(ctx); remote != nil && cfg.appID > 0 {
		go remote.Stream(ctx, cfg.appID, func(m gotify.Message) {
			fn(fromMessage(m))
		})
		return
	}

	id := uuid.New()
	d.listenersMu.Lock()
	d.listeners[id] = fn
	d.listenersMu.Unlock()

	go func() {
		<-ctx.Done()
		d.listenersMu.Lock()
		delete(d.listeners, id)
		d.listenersMu.Unlock()
	}()
}

func (d *Dispatcher) notifyListeners(n Notification) {
	d.listenersMu.RLock()
	snapshot := make([]func(Notification), 0, len(d.listeners))
	for _, fn := range d.listeners {
		snapshot = append(snapshot, fn)
	}
	d.listenersMu.RUnlock()

	for _, fn := range snapshot {
		fn(n)
	}
}

func (d *Dispatcher) attachExternal(id int64, msg gotify.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.items {
		if d.items[i].ID == id {
			external := msg.ID
			d.items[i].ExternalID = &external
			d.items[i].AppID = msg.AppID
			return
		}
	}
}

func (d *Dispatcher) suppressed(ctx context.Context, title, body string) bool {
	tokens := settings.Tokens(ctx, d.settings, settings.LogFilterTokens)
	if len(tokens) == 0 {
		return false
	}
	title = strings.ToLower(title)
	body = strings.ToLower(body)
	for _, token := range tokens {
		token = strings.ToLower(token)
		if strings.Contains(title, token) || strings.Contains(body, token) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) log(title, body string, severity Severity) {
	ce := d.logger.Check(zapLevel(severity), title)
	if ce == nil {
		return
	}
	fields := []zap.Field{zap.String("body", body), zap.Stringer("severity", severity)}
	if severity == SeverityCritical {
		fields = append(fields, zap.Bool("critical", true))
	}
	ce.Write(fields...)
}

// remoteFor returns the push client for the current settings, or nil when
// the service is not configured.
func (d *Dispatcher) remoteFor(ctx context.Context) (Remote, remoteConfig) {
	cfg := remoteConfig{
		uri:         settings.String(ctx, d.settings, settings.GotifyURI, ""),
		appToken:    settings.String(ctx, d.settings, settings.GotifyAppToken, ""),
		clientToken: settings.String(ctx, d.settings, settings.GotifyClientToken, ""),
		appID:       settings.Int64(ctx, d.settings, settings.GotifyAppID, defaultAppID),
		minPriority: settings.Int(ctx, d.settings, settings.GotifyMinPriority, DefaultMinPriority),
	}
	if !cfg.configured() {
		return nil, cfg
	}

	d.remoteMu.Lock()
	defer d.remoteMu.Unlock()
	key := remoteConfig{uri: cfg.uri, appToken: cfg.appToken, clientToken: cfg.clientToken}
	if d.remote != nil && d.remoteKey == key {
		return d.remote, cfg
	}
	remote, err := d.newRemote(gotify.Config{
		URI:         cfg.uri,
		AppToken:    cfg.appToken,
		ClientToken: cfg.clientToken,
	}, d.logger.Named("gotify"))
	if err != nil {
		d.logger.Warn("build push client failed", zap.String("uri", cfg.uri), zap.Error(err))
		return nil, cfg
	}
	d.remote = remote
	d.remoteKey = key
	return remote, cfg
}

func (d *Dispatcher) gotifyRemote(cfg gotify.Config, logger *zap.Logger) (Remote, error) {
	client, err := gotify.New(cfg, logger, d.clientOpts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// fromMessage converts a push service message. ID stays zero: remote
// entries are addressed by ExternalID only.
func fromMessage(m gotify.Message) Notification {
	external := m.ID
	return Notification{
		ExternalID: &external,
		AppID:      m.AppID,
		Date:       m.Date,
		Severity:   SeverityFor(m.Priority),
		Priority:   m.Priority,
		Title:      m.Title,
		Body:       m.Message,
	}
}
