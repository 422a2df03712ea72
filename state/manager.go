package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/osmanzeki/Twitch-Discord-Bot/apierr"
)

// Manager owns the in-memory copy of the document and is the only writer of
// the Store. Every mutation goes through Update, which clones the current
// document, applies the change, persists it and only then swaps it in.
type Manager struct {
	store Store

	mu  sync.Mutex
	doc *Document
}

// NewManager loads the document from store.
func NewManager(ctx context.Context, store Store) (*Manager, error) {
	doc, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, doc: doc}, nil
}

// Snapshot returns a copy of the current document. Callers may modify it freely.
func (m *Manager) Snapshot() *Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone()
}

// Update applies fn to a copy of the document and persists the result.
// If fn returns ErrNoChange nothing is saved and Update returns nil. If fn or
// the save fail, the in-memory document is left untouched.
func (m *Manager) Update(ctx context.Context, fn func(doc *Document) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.doc.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	if err := m.store.Save(ctx, next); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	m.doc = next
	return nil
}

// AddChannel appends a watch entry. It returns false when an entry with
// exactly that name is already present; the list is then left unchanged.
func (m *Manager) AddChannel(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrInvalidChannelName
	}
	added := false
	err := m.Update(ctx, func(doc *Document) error {
		if doc.Entry(name) != nil {
			return ErrNoChange
		}
		doc.Twitch.Channels = append(doc.Twitch.Channels, WatchEntry{ChannelName: name})
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if added {
		slog.Info("channel added to watch list", slog.String("channel", name), slog.String("component", "state"))
	} else {
		slog.Info("channel already in watch list", slog.String("channel", name), slog.String("component", "state"))
	}
	return added, nil
}

// RemoveChannel deletes the entry named exactly name. It returns false when
// no such entry exists.
func (m *Manager) RemoveChannel(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrInvalidChannelName
	}
	removed := false
	err := m.Update(ctx, func(doc *Document) error {
		kept := doc.Twitch.Channels[:0]
		for _, e := range doc.Twitch.Channels {
			if e.ChannelName == name {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		if !removed {
			return ErrNoChange
		}
		doc.Twitch.Channels = kept
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		slog.Info("channel removed from watch list", slog.String("channel", name), slog.String("component", "state"))
	}
	return removed, nil
}

// SetAuthToken replaces the Twitch bearer token and nothing else.
func (m *Manager) SetAuthToken(ctx context.Context, token string) error {
	return m.Update(ctx, func(doc *Document) error {
		if doc.Twitch.AuthToken == token {
			return ErrNoChange
		}
		doc.Twitch.AuthToken = token
		return nil
	})
}

// AccessToken returns the current bearer token. Before the first successful
// refresh there is none, which is reported as an auth failure.
func (m *Manager) AccessToken(_ context.Context) (string, error) {
	m.mu.Lock()
	tok := m.doc.Twitch.AuthToken
	m.mu.Unlock()
	if tok == "" {
		return "", apierr.Auth("state token", errors.New("no bearer token yet"))
	}
	return tok, nil
}
