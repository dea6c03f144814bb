// Package credential provides bearer-token authenticators for the request client.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/fedisync/internal/apiclient"
)

const loginResource = "user/login"

// User is a username/password pair for a downstream account.
type User struct {
	Username string `json:"username_or_email"`
	Password string `json:"password"`
}

type loginResponse struct {
	JWT string `json:"jwt"`
}

// Admin logs in on first use and caches the returned bearer token until
// Invalidate is called. Concurrent callers may both refresh; the last
// successful login wins.
type Admin struct {
	login *apiclient.Client
	user  User

	mu    sync.RWMutex
	token string
}

// NewAdmin returns an authenticator for user. login must be an
// unauthenticated client rooted at the remote API base.
func NewAdmin(login *apiclient.Client, user User) *Admin {
	return &Admin{login: login, user: user}
}

// Username returns the account name this authenticator logs in as.
func (a *Admin) Username() string {
	return a.user.Username
}

// Authorization returns "Bearer <token>", logging in when no token is cached.
func (a *Admin) Authorization(ctx context.Context) (string, error) {
	a.mu.RLock()
	token := a.token
	a.mu.RUnlock()
	if token != "" {
		return "Bearer " + token, nil
	}

	token, err := a.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	return "Bearer " + token, nil
}

// Invalidate drops the cached token; the next Authorization call logs in again.
func (a *Admin) Invalidate() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

// Token returns the cached token without logging in.
func (a *Admin) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *Admin) fetchToken(ctx context.Context) (string, error) {
	if a.login == nil {
		return "", fmt.Errorf("%w: no login client configured", apiclient.ErrAuthentication)
	}
	resp, err := apiclient.Post[loginResponse](ctx, a.login, loginResource, a.user)
	if err != nil {
		var statusErr *apiclient.StatusError
		if errors.As(err, &statusErr) {
			return "", fmt.Errorf("%w: login as %s: %w", apiclient.ErrAuthentication, a.user.Username, err)
		}
		return "", fmt.Errorf("login as %s: %w", a.user.Username, err)
	}
	token := strings.TrimSpace(resp.JWT)
	if token == "" {
		return "", fmt.Errorf("%w: login as %s returned no token", apiclient.ErrAuthentication, a.user.Username)
	}
	return token, nil
}

// Anonymous sends requests without credentials.
type Anonymous struct{}

// Authorization always returns an empty header value.
func (Anonymous) Authorization(context.Context) (string, error) {
	return "", nil
}

// Static sends a fixed bearer token and cannot be refreshed.
type Static struct {
	Token string
}

// Authorization returns "Bearer <token>" or nothing when the token is blank.
func (s Static) Authorization(context.Context) (string, error) {
	if strings.TrimSpace(s.Token) == "" {
		return "", nil
	}
	return "Bearer " + s.Token, nil
}
