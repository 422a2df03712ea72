package twitchapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/osmanzeki/Twitch-Discord-Bot/apierr"
)

func withTokenURL(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(h)
	old := TokenURL
	TokenURL = server.URL + "/oauth2/token"
	t.Cleanup(func() {
		TokenURL = old
		server.Close()
	})
}

func TestExchange(t *testing.T) {
	withTokenURL(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %s", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("client_id") != "cid" || r.PostForm.Get("client_secret") != "sec" {
			t.Errorf("credentials must be sent in the body, got %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"app-token","expires_in":3600,"token_type":"bearer"}`))
	})

	tok, err := NewExchanger(nil)(context.Background(), "cid", "sec")
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}
	if tok.AccessToken != "app-token" {
		t.Errorf("AccessToken = %s, want app-token", tok.AccessToken)
	}
	if tok.Expiry.IsZero() {
		t.Errorf("expiry not set from expires_in")
	}
}

func TestExchange_Rejected(t *testing.T) {
	withTokenURL(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":403,"message":"invalid client secret"}`))
	})
	_, err := NewExchanger(nil)(context.Background(), "cid", "bad")
	if !apierr.IsAuth(err) {
		t.Errorf("expected auth error, got %v", err)
	}
}

func TestExchange_MissingCredentials(t *testing.T) {
	called := false
	withTokenURL(t, func(http.ResponseWriter, *http.Request) { called = true })
	if _, err := NewExchanger(nil)(context.Background(), "", "sec"); err == nil {
		t.Errorf("expected error for empty client id")
	}
	if _, err := NewExchanger(nil)(context.Background(), "cid", ""); err == nil {
		t.Errorf("expected error for empty secret")
	}
	if called {
		t.Errorf("no request expected without credentials")
	}
}

func TestNewExchanger_UsesClient(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t2","expires_in":60}`))
	}))
	defer server.Close()
	old := TokenURL
	TokenURL = server.URL
	defer func() { TokenURL = old }()

	tok, err := NewExchanger(server.Client())(context.Background(), "cid", "sec")
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}
	if tok.AccessToken != "t2" || hits != 1 {
		t.Errorf("token = %s hits = %d", tok.AccessToken, hits)
	}
}
