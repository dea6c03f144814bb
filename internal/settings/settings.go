// Package settings reads runtime settings stored as string values and
// converts them with caller-supplied defaults.
package settings

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cast"
)

// ErrNotFound signals that no value is stored for a setting.
var ErrNotFound = errors.New("setting not found")

// Setting names understood by the service.
const (
	SyncEnabled          = "SyncEnabled"
	ParallelPostFetch    = "ParallelPostFetch"
	ScanDelayMinutes     = "ScanDelayMinutes"
	PageLimit            = "PageLimit"
	DefaultPostFetchDays = "DefaultPostFetchDays"
	LogFilterTokens      = "LogFilterTokens"

	LemmyURI           = "LemmyUri"
	LemmyAPIPath       = "LemmyApiPath"
	LemmyAdminUsername = "LemmyAdminUsername"
	LemmyAdminPassword = "LemmyAdminPassword"

	GotifyURI         = "GotifyUri"
	GotifyAppToken    = "GotifyAppToken"
	GotifyClientToken = "GotifyClientToken"
	GotifyAppID       = "GotifyAppId"
	GotifyMinPriority = "GotifyMinPriority"
)

// Mask replaces secret values in listings.
const Mask = "********"

// IsSecret reports whether the named setting holds a credential.
func IsSecret(name string) bool {
	switch name {
	case LemmyAdminPassword, GotifyAppToken, GotifyClientToken:
		return true
	}
	return false
}

// Masked returns a copy of values with non-empty secrets replaced by Mask.
func Masked(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for name, value := range values {
		if IsSecret(name) && value != "" {
			value = Mask
		}
		out[name] = value
	}
	return out
}

// Reader looks up the raw value of a setting. Implementations return
// ErrNotFound when the setting is absent.
type Reader interface {
	Get(ctx context.Context, name string) (string, error)
}

// Writer stores the raw value of a setting.
type Writer interface {
	Set(ctx context.Context, name, value string) error
}

// Store reads and writes settings.
type Store interface {
	Reader
	Writer
	All(ctx context.Context) (map[string]string, error)
}

// String returns the stored value or def when absent or unreadable.
func String(ctx context.Context, r Reader, name, def string) string {
	if r == nil {
		return def
	}
	v, err := r.Get(ctx, name)
	if err != nil {
		return def
	}
	return v
}

// Int parses the stored value as an integer, falling back to def.
func Int(ctx context.Context, r Reader, name string, def int) int {
	raw := strings.TrimSpace(String(ctx, r, name, ""))
	if raw == "" {
		return def
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		return def
	}
	return v
}

// Int64 parses the stored value as a 64-bit integer, falling back to def.
func Int64(ctx context.Context, r Reader, name string, def int64) int64 {
	raw := strings.TrimSpace(String(ctx, r, name, ""))
	if raw == "" {
		return def
	}
	v, err := cast.ToInt64E(raw)
	if err != nil {
		return def
	}
	return v
}

// Bool parses the stored value as a boolean, falling back to def.
func Bool(ctx context.Context, r Reader, name string, def bool) bool {
	raw := strings.TrimSpace(String(ctx, r, name, ""))
	if raw == "" {
		return def
	}
	v, err := cast.ToBoolE(raw)
	if err != nil {
		return def
	}
	return v
}

// Tokens splits a semicolon-delimited value, trimming entries and dropping empties.
func Tokens(ctx context.Context, r Reader, name string) []string {
	return SplitTokens(String(ctx, r, name, ""))
}

// SplitTokens splits raw on ";" and drops blank entries.
func SplitTokens(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
