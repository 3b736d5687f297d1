package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexuscore/agentruntime/pkg/models"

	// Driver registration only; the Persister below talks through
	// database/sql. mattn/go-sqlite3 is the cgo-based driver used by single-
	// node deployments that already link cgo for other reasons; modernc.org's
	// pure-Go sqlite is the default for cgo-free builds. lib/pq backs
	// multi-node Postgres deployments. All three are teacher dependencies;
	// all three are linked into every build, and NewSQLPersister's
	// driverName picks one at run time.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLPersister implements Persister over database/sql. It is grounded on
// internal/sessions/store.go's SQL-backed Store, trimmed to the narrower
// Persister contract: the chain-safety and windowing logic lives entirely in
// Store, not here.
type SQLPersister struct {
	db *sql.DB
}

// NewSQLPersister opens (and migrates) a SQL-backed persister. driverName is
// one of "sqlite3" (mattn, cgo), "sqlite" (modernc, pure Go), or "postgres"
// (lib/pq).
func NewSQLPersister(ctx context.Context, driverName, dsn string) (*SQLPersister, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sessions: open %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sessions: ping %s: %w", driverName, err)
	}
	p := &SQLPersister{db: db}
	if err := p.migrate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SQLPersister) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			user_id TEXT,
			channel_data TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			compressed_count INTEGER NOT NULL,
			last_updated TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sessions: migrate: %w", err)
		}
	}
	return nil
}

func (p *SQLPersister) LoadAllSessionMetas(ctx context.Context) ([]*models.Session, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, channel, user_id, channel_data, created_at, updated_at FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var (
			sess        models.Session
			userID      sql.NullString
			channelData sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.Channel, &userID, &channelData, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sess.UserID = userID.String
		if channelData.Valid && channelData.String != "" {
			_ = json.Unmarshal([]byte(channelData.String), &sess.ChannelData)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (p *SQLPersister) SaveSessionMeta(ctx context.Context, s *models.Session) error {
	var channelData []byte
	if len(s.ChannelData) > 0 {
		var err error
		channelData, err = json.Marshal(s.ChannelData)
		if err != nil {
			return err
		}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, channel, user_id, channel_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			channel = excluded.channel,
			user_id = excluded.user_id,
			channel_data = excluded.channel_data,
			updated_at = excluded.updated_at
	`, s.ID, s.Channel, s.UserID, string(channelData), s.CreatedAt, s.UpdatedAt)
	return err
}

func (p *SQLPersister) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var seq int
	row := p.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM session_messages WHERE session_id = $1`, sessionID)
	if err := row.Scan(&seq); err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO session_messages (session_id, seq, payload) VALUES ($1, $2, $3)`, sessionID, seq, string(payload))
	return err
}

func (p *SQLPersister) LoadMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT payload FROM session_messages WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (p *SQLPersister) ClearMessages(ctx context.Context, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = $1`, sessionID)
	return err
}

func (p *SQLPersister) LoadSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	row := p.db.QueryRowContext(ctx, `SELECT content, compressed_count, last_updated FROM session_summaries WHERE session_id = $1`, sessionID)
	var s models.SessionSummary
	err := row.Scan(&s.Content, &s.CompressedCount, &s.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *SQLPersister) SaveSummary(ctx context.Context, sessionID string, summary *models.SessionSummary) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO session_summaries (session_id, content, compressed_count, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET
			content = excluded.content,
			compressed_count = excluded.compressed_count,
			last_updated = excluded.last_updated
	`, sessionID, summary.Content, summary.CompressedCount, time.Now())
	return err
}

func (p *SQLPersister) ClearSummary(ctx context.Context, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM session_summaries WHERE session_id = $1`, sessionID)
	return err
}

// Close releases the underlying database handle.
func (p *SQLPersister) Close() error {
	return p.db.Close()
}
