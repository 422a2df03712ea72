// Package oauth keeps the Twitch app access token in the configuration store
// fresh. A failed refresh leaves the previous token in place so the next
// reconcile cycle can still try with it.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/osmanzeki/Twitch-Discord-Bot/telemetry"
)

// ExchangeFunc trades client credentials for a new access token.
type ExchangeFunc func(ctx context.Context, clientID, secret string) (*oauth2.Token, error)

// TokenWriter persists the bearer token.
type TokenWriter interface {
	SetAuthToken(ctx context.Context, token string) error
}

// Refresher runs the client credentials grant and stores the result.
// ClientID and ClientSecret are resolved on every call so credential edits in
// the store take effect without a restart.
type Refresher struct {
	Credentials func() (clientID, secret string)
	Exchange    ExchangeFunc
	Tokens      TokenWriter
	Timeout     time.Duration
}

// Refresh obtains a new token and persists it. Errors are logged and counted;
// they are also returned for callers that care (startup logs, tests).
func (r *Refresher) Refresh(ctx context.Context) error {
	if r.Exchange == nil || r.Tokens == nil || r.Credentials == nil {
		return errors.New("refresher not configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientID, secret := r.Credentials()
	tok, err := r.Exchange(ctx2, clientID, secret)
	if err != nil {
		telemetry.CountTokenRefresh("failure")
		slog.Warn("token refresh failed, keeping previous token",
			slog.String("component", "oauth_refresh"), slog.Any("err", err))
		return err
	}
	if err := r.Tokens.SetAuthToken(ctx, tok.AccessToken); err != nil {
		telemetry.CountTokenRefresh("failure")
		slog.Warn("token persist failed",
			slog.String("component", "oauth_refresh"), slog.Any("err", err))
		return err
	}
	telemetry.CountTokenRefresh("success")
	slog.Info("token refreshed",
		slog.String("component", "oauth_refresh"),
		slog.String("token", Mask(tok.AccessToken)),
		slog.Time("expires_at", tok.Expiry))
	return nil
}

// Mask returns the last 6 characters of a token prefixed with "...".
func Mask(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return "..." + token[len(token)-6:]
}
