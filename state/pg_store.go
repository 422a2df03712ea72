package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/osmanzeki/Twitch-Discord-Bot/crypto"
)

// PGStore keeps the document as JSONB in the single-row bot_state table
// (see db.Migrate). A single upsert statement is atomic, so a crash mid-save
// leaves the previous document intact.
type PGStore struct {
	DB     *sql.DB
	Sealer crypto.Sealer // optional
}

func (s *PGStore) Load(ctx context.Context) (*Document, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT document FROM bot_state WHERE id=1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("select bot_state: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse bot_state document: %w", err)
	}
	if err := doc.opened(s.Sealer); err != nil {
		return nil, fmt.Errorf("open sealed token: %w", err)
	}
	return &doc, nil
}

func (s *PGStore) Save(ctx context.Context, doc *Document) error {
	out, err := doc.sealed(s.Sealer)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO bot_state (id, document, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET document=EXCLUDED.document, updated_at=NOW()`, string(raw))
	if err != nil {
		return fmt.Errorf("upsert bot_state: %w", err)
	}
	return nil
}
