package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/tavern/internal/core/model"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite stores each adventure as one row of JSON documents plus an
// append-only events table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies pending
// migrations. ":memory:" gives a private in-process database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps commits serialized and :memory: on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		name := filepath.Base(file)
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		body, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		err = s.tx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, time.Now().Unix())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLite) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *SQLite) CreateAdventure(ctx context.Context, adv Adventure, party model.Party, turn model.TurnState) error {
	partyJSON, err := encode(party)
	if err != nil {
		return err
	}
	turnJSON, err := encode(turn)
	if err != nil {
		return err
	}
	memJSON, err := encode(model.MemoryState{Notes: map[string]string{}})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO adventures (id, campaign, created_at, party, turn, memory) VALUES (?, ?, ?, ?, ?, ?)`,
		adv.ID, adv.Campaign, adv.CreatedAt.UnixNano(), partyJSON, turnJSON, memJSON)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: adventure %s already exists", model.ErrConflict, adv.ID)
		}
		return fmt.Errorf("failed to insert adventure: %w", err)
	}
	return nil
}

func (s *SQLite) ListAdventures(ctx context.Context) ([]Adventure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, campaign, created_at FROM adventures ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Adventure
	for rows.Next() {
		var (
			a  Adventure
			ns int64
		)
		if err := rows.Scan(&a.ID, &a.Campaign, &ns); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(0, ns).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// loadColumn decodes one JSON column of the adventure row into dst.
func (s *SQLite) loadColumn(ctx context.Context, adventureID, column string, dst any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT `+column+` FROM adventures WHERE id = ?`, adventureID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, adventureID)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", column, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", column, err)
	}
	return nil
}

func saveColumn(ctx context.Context, exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, adventureID, column string, v any) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	res, err := exec.ExecContext(ctx, `UPDATE adventures SET `+column+` = ? WHERE id = ?`, raw, adventureID)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, adventureID)
	}
	return nil
}

func (s *SQLite) LoadParty(ctx context.Context, adventureID string) (model.Party, error) {
	var p model.Party
	err := s.loadColumn(ctx, adventureID, "party", &p)
	return p, err
}

func (s *SQLite) SaveParty(ctx context.Context, adventureID string, party model.Party) error {
	return saveColumn(ctx, s.db, adventureID, "party", party)
}

func (s *SQLite) LoadTurn(ctx context.Context, adventureID string) (model.TurnState, error) {
	var t model.TurnState
	err := s.loadColumn(ctx, adventureID, "turn", &t)
	return t, err
}

func (s *SQLite) SaveTurn(ctx context.Context, adventureID string, turn model.TurnState) error {
	return saveColumn(ctx, s.db, adventureID, "turn", turn)
}

// CommitResolution appends the event and replaces party and turn in one
// transaction.
func (s *SQLite) CommitResolution(ctx context.Context, adventureID string, c Commit) error {
	body, err := encode(c.Event)
	if err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := saveColumn(ctx, tx, adventureID, "party", c.Party); err != nil {
			return err
		}
		if err := saveColumn(ctx, tx, adventureID, "turn", c.Turn); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO events (adventure_id, seq, id, body)
			VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE adventure_id = ?), ?, ?)`,
			adventureID, adventureID, c.Event.ID, body)
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		return nil
	})
}

func (s *SQLite) exists(ctx context.Context, adventureID string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM adventures WHERE id = ?`, adventureID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, adventureID)
	}
	return nil
}

func (s *SQLite) RecentEvents(ctx context.Context, adventureID string, limit int) ([]model.ResolvedEvent, error) {
	if err := s.exists(ctx, adventureID); err != nil {
		return nil, err
	}
	query := `SELECT body FROM (
		SELECT seq, body FROM events WHERE adventure_id = ? ORDER BY seq DESC LIMIT ?
	) ORDER BY seq`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, adventureID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	var out []model.ResolvedEvent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e model.ResolvedEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) LoadMemory(ctx context.Context, adventureID string) (model.MemoryState, error) {
	var m model.MemoryState
	if err := s.loadColumn(ctx, adventureID, "memory", &m); err != nil {
		return model.MemoryState{}, err
	}
	if m.Notes == nil {
		m.Notes = map[string]string{}
	}
	return m, nil
}

func (s *SQLite) SaveMemory(ctx context.Context, adventureID string, mem model.MemoryState) error {
	return saveColumn(ctx, s.db, adventureID, "memory", mem)
}

func (s *SQLite) SaveCampaign(ctx context.Context, adventureID string, sections []model.CampaignSection) error {
	if err := s.exists(ctx, adventureID); err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_sections WHERE adventure_id = ?`, adventureID); err != nil {
			return err
		}
		for i, sec := range sections {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO campaign_sections (adventure_id, position, title, content) VALUES (?, ?, ?, ?)`,
				adventureID, i, sec.Title, sec.Content); err != nil {
				return fmt.Errorf("failed to save section %q: %w", sec.Title, err)
			}
		}
		return nil
	})
}

func (s *SQLite) CampaignSections(ctx context.Context, adventureID string) ([]model.CampaignSection, error) {
	if err := s.exists(ctx, adventureID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT title, content FROM campaign_sections WHERE adventure_id = ? ORDER BY position`, adventureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CampaignSection
	for rows.Next() {
		var sec model.CampaignSection
		if err := rows.Scan(&sec.Title, &sec.Content); err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

func (s *SQLite) Close(ctx context.Context) error {
	return s.db.Close()
}
