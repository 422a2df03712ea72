// Package twitchapi contains the Twitch Helix calls the bot needs: live
// stream lookup and channel search, authenticated with an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osmanzeki/Twitch-Discord-Bot/apierr"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// TokenProvider returns the current bearer token.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// HelixClient issues authenticated Helix requests. When ClientIDFunc is set
// it is consulted on every request and wins over ClientID, so the header
// follows the credentials the token was minted with.
type HelixClient struct {
	ClientID     string
	ClientIDFunc func() string
	Tokens       TokenProvider
	HTTPClient   *http.Client
	BaseURL      string
}

func (hc *HelixClient) clientID() string {
	if hc.ClientIDFunc != nil {
		return hc.ClientIDFunc()
	}
	return hc.ClientID
}

// Stream is one entry of the /streams response. Only live streams are returned.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Language     string    `json:"language"`
}

// Channel is one entry of the /search/channels response.
type Channel struct {
	ID               string `json:"id"`
	BroadcasterLogin string `json:"broadcaster_login"`
	DisplayName      string `json:"display_name"`
	GameName         string `json:"game_name"`
	IsLive           bool   `json:"is_live"`
	ThumbnailURL     string `json:"thumbnail_url"`
	Title            string `json:"title"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

// GetStreams returns the live streams of login. An empty slice means offline;
// a failed request is always an error, never an empty result.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("user_login", login)
	var out []Stream
	if err := hc.get(ctx, "helix streams", "/streams", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchChannels runs a channel search for query (lowercased before sending).
func (hc *HelixClient) SearchChannels(ctx context.Context, query string) ([]Channel, error) {
	if query == "" {
		return nil, fmt.Errorf("query empty")
	}
	q := url.Values{}
	q.Set("query", strings.ToLower(query))
	var out []Channel
	if err := hc.get(ctx, "helix search channels", "/search/channels", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindChannel returns the search result whose broadcaster_login equals login,
// ignoring case. Anything else is a NotFound error.
func (hc *HelixClient) FindChannel(ctx context.Context, login string) (*Channel, error) {
	channels, err := hc.SearchChannels(ctx, login)
	if err != nil {
		return nil, err
	}
	for i := range channels {
		if strings.EqualFold(channels[i].BroadcasterLogin, login) {
			c := channels[i]
			return &c, nil
		}
	}
	return nil, apierr.NotFound("helix search channels", fmt.Errorf("no channel with login %q", login))
}

// get performs one GET and decodes the "data" array into out.
func (hc *HelixClient) get(ctx context.Context, op, path string, q url.Values, out any) error {
	tok, err := hc.Tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path, nil)
	if err != nil {
		return apierr.Transport(op, err)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.clientID())
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := hc.http().Do(req)
	if err != nil {
		return apierr.Transport(op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apierr.FromStatus(op, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return apierr.Malformed(op, err)
	}
	if len(body.Data) == 0 || string(body.Data) == "null" {
		return apierr.Malformed(op, errors.New("response has no data field"))
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return apierr.Malformed(op, err)
	}
	return nil
}
