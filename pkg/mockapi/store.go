package mockapi

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrDuplicate is returned when a service account name is already taken.
var ErrDuplicate = errors.New("mockapi store: duplicate")

type FeedbackRecord struct {
	ID                 int64     `json:"id"`
	ConversationID     string    `json:"conversationId"`
	MessageID          string    `json:"messageId"`
	Rating             string    `json:"rating,omitempty"`
	PredefinedResponse string    `json:"predefinedResponse,omitempty"`
	Freeform           string    `json:"freeform,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

type ServiceAccountRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Environment string    `json:"environment,omitempty"`
	ClientID    string    `json:"clientId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store records what the mock API received. Secrets are never stored.
type Store struct {
	db *sql.DB
}

func NewStore(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mockapi store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "mockapi store: open")
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS feedback (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  conversation_id TEXT NOT NULL,
		  message_id TEXT NOT NULL,
		  rating TEXT NOT NULL DEFAULT '',
		  predefined_response TEXT NOT NULL DEFAULT '',
		  freeform TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS feedback_by_message
		  ON feedback(conversation_id, message_id);`,
		`CREATE TABLE IF NOT EXISTS service_accounts (
		  id TEXT PRIMARY KEY,
		  name TEXT NOT NULL UNIQUE,
		  description TEXT NOT NULL DEFAULT '',
		  environment TEXT NOT NULL DEFAULT '',
		  client_id TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS org_two_factor (
		  org_id TEXT PRIMARY KEY,
		  enabled INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "mockapi store: migrate")
		}
	}
	return nil
}

func (s *Store) AddFeedback(ctx context.Context, r FeedbackRecord) (FeedbackRecord, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (conversation_id, message_id, rating, predefined_response, freeform, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ConversationID, r.MessageID, r.Rating, r.PredefinedResponse, r.Freeform, r.CreatedAt.UnixMilli())
	if err != nil {
		return FeedbackRecord{}, errors.Wrap(err, "mockapi store: insert feedback")
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return FeedbackRecord{}, errors.Wrap(err, "mockapi store: feedback id")
	}
	return r, nil
}

// ListFeedback returns feedback in insertion order, optionally filtered by conversation.
func (s *Store) ListFeedback(ctx context.Context, conversationID string) ([]FeedbackRecord, error) {
	q := `SELECT id, conversation_id, message_id, rating, predefined_response, freeform, created_at_ms FROM feedback`
	var args []any
	if conversationID != "" {
		q += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	q += ` ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "mockapi store: query feedback")
	}
	defer func() { _ = rows.Close() }()

	var out []FeedbackRecord
	for rows.Next() {
		var (
			r  FeedbackRecord
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.MessageID, &r.Rating, &r.PredefinedResponse, &r.Freeform, &ms); err != nil {
			return nil, errors.Wrap(err, "mockapi store: scan feedback")
		}
		r.CreatedAt = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "mockapi store: iterate feedback")
}

func (s *Store) AddServiceAccount(ctx context.Context, r ServiceAccountRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_accounts (id, name, description, environment, client_id, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Description, r.Environment, r.ClientID, r.CreatedAt.UnixMilli())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return errors.Wrapf(ErrDuplicate, "service account %q", r.Name)
		}
		return errors.Wrap(err, "mockapi store: insert service account")
	}
	return nil
}

func (s *Store) ListServiceAccounts(ctx context.Context) ([]ServiceAccountRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, environment, client_id, created_at_ms
		FROM service_accounts ORDER BY created_at_ms ASC, name ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "mockapi store: query service accounts")
	}
	defer func() { _ = rows.Close() }()

	var out []ServiceAccountRecord
	for rows.Next() {
		var (
			r  ServiceAccountRecord
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Environment, &r.ClientID, &ms); err != nil {
			return nil, errors.Wrap(err, "mockapi store: scan service account")
		}
		r.CreatedAt = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "mockapi store: iterate service accounts")
}

func (s *Store) SetOrg2FA(ctx context.Context, orgID string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_two_factor (org_id, enabled, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(org_id) DO UPDATE SET enabled = excluded.enabled, updated_at_ms = excluded.updated_at_ms
	`, orgID, v, time.Now().UnixMilli())
	return errors.Wrap(err, "mockapi store: upsert org two-factor")
}

// Org2FA reports the stored policy of orgID; ok is false when it was never set.
func (s *Store) Org2FA(ctx context.Context, orgID string) (enabled bool, ok bool, err error) {
	var v int
	err = s.db.QueryRowContext(ctx, `SELECT enabled FROM org_two_factor WHERE org_id = ?`, orgID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, errors.Wrap(err, "mockapi store: query org two-factor")
	}
	return v == 1, true, nil
}
