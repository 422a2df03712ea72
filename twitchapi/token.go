package twitchapi

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osmanzeki/Twitch-Discord-Bot/apierr"
)

// DefaultTokenURL is the Twitch OAuth token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenURL is the endpoint exchanges are sent to. Tests point it at a local
// server.
var TokenURL = DefaultTokenURL

// NewExchanger returns an app access token exchange (client credentials
// grant) sending its requests through hc. A nil hc uses the oauth2 default
// client. Twitch expects the client id and secret in the body.
func NewExchanger(hc *http.Client) func(ctx context.Context, clientID, secret string) (*oauth2.Token, error) {
	return func(ctx context.Context, clientID, secret string) (*oauth2.Token, error) {
		return exchange(ctx, hc, clientID, secret)
	}
}

func exchange(ctx context.Context, hc *http.Client, clientID, secret string) (*oauth2.Token, error) {
	if clientID == "" || secret == "" {
		return nil, apierr.Auth("twitch token", errors.New("missing client id/secret for twitch app token"))
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, apierr.FromStatus("twitch token", re.Response.StatusCode, string(re.Body))
		}
		return nil, apierr.Transport("twitch token", err)
	}
	if tok.AccessToken == "" {
		return nil, apierr.Malformed("twitch token", errors.New("empty access_token in twitch response"))
	}
	return tok, nil
}
