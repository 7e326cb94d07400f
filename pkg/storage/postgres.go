package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS target (
	id     UUID PRIMARY KEY,
	name   TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS issue (
	id           UUID PRIMARY KEY,
	target_id    UUID NOT NULL REFERENCES target(id) ON UPDATE CASCADE ON DELETE CASCADE,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL,
	issue_status TEXT NOT NULL,
	created_by   TEXT NOT NULL,
	assigned_to  TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	to_offline   TEXT,
	enforce_down BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS issue_target_status_idx ON issue (target_id, issue_status);
CREATE TABLE IF NOT EXISTS comment (
	id         UUID PRIMARY KEY,
	issue_id   UUID NOT NULL REFERENCES issue(id) ON UPDATE CASCADE ON DELETE CASCADE,
	created_by TEXT NOT NULL,
	comment    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS comment_issue_idx ON comment (issue_id);
`

// uniqueViolation is the PostgreSQL error code for unique_violation
const uniqueViolation = "23505"

// foreignKeyViolation is the PostgreSQL error code for foreign_key_violation
const foreignKeyViolation = "23503"

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to dsn and creates the schema if needed
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// validID guards UUID columns; a malformed id can never match a row
func validID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Target operations

func (s *PostgresStore) CreateTarget(ctx context.Context, target *types.Target) error {
	if target.ID == "" {
		target.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO target (id, name, status) VALUES ($1, $2, $3)`,
		target.ID, target.Name, target.Status)
	if pqCode(err) == uniqueViolation {
		return fmt.Errorf("target %s: %w", target.Name, ErrConflict)
	}
	return err
}

func (s *PostgresStore) scanTarget(row *sql.Row, key string) (*types.Target, error) {
	var t types.Target
	if err := row.Scan(&t.ID, &t.Name, &t.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("target %s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) GetTarget(ctx context.Context, id string) (*types.Target, error) {
	if err := validID("target", id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, name, status FROM target WHERE id = $1`, id)
	return s.scanTarget(row, id)
}

func (s *PostgresStore) GetTargetByName(ctx context.Context, name string) (*types.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, status FROM target WHERE name = $1`, name)
	return s.scanTarget(row, name)
}

func (s *PostgresStore) ListTargets(ctx context.Context) ([]*types.Target, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, status FROM target ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []*types.Target
	for rows.Next() {
		var t types.Target
		if err := rows.Scan(&t.ID, &t.Name, &t.Status); err != nil {
			return nil, err
		}
		targets = append(targets, &t)
	}
	return targets, rows.Err()
}

func (s *PostgresStore) UpdateTargetStatus(ctx context.Context, id string, status types.TargetStatus) error {
	if err := validID("target", id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE target SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return expectRow(res, "target", id)
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// Issue operations

const issueColumns = `id, target_id, title, description, issue_status, created_by, assigned_to, created_at, to_offline, enforce_down`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row rowScanner) (*types.Issue, error) {
	var (
		i          types.Issue
		assignedTo sql.NullString
		toOffline  sql.NullString
	)
	err := row.Scan(&i.ID, &i.TargetID, &i.Title, &i.Description, &i.Status,
		&i.CreatedBy, &assignedTo, &i.CreatedAt, &toOffline, &i.EnforceDown)
	if err != nil {
		return nil, err
	}
	i.AssignedTo = assignedTo.String
	i.ToOffline = types.ToOffline(toOffline.String)
	return &i, nil
}

func (s *PostgresStore) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issue (`+issueColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		issue.ID, issue.TargetID, issue.Title, issue.Description, issue.Status, issue.CreatedBy,
		nullString(issue.AssignedTo), issue.CreatedAt, nullString(string(issue.ToOffline)), issue.EnforceDown)
	if pqCode(err) == foreignKeyViolation {
		return fmt.Errorf("target %s: %w", issue.TargetID, ErrNotFound)
	}
	return err
}

func (s *PostgresStore) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	if err := validID("issue", id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issue WHERE id = $1`, id)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	return issue, err
}

func (s *PostgresStore) ListIssues(ctx context.Context, filter IssueFilter) ([]*types.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issue
		 WHERE ($1 = '' OR target_id::text = $1) AND ($2 = '' OR issue_status = $2)
		 ORDER BY created_at`,
		filter.TargetID, string(filter.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *PostgresStore) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	if err := validID("issue", issue.ID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE issue SET title = $2, description = $3, issue_status = $4, assigned_to = $5,
		 to_offline = $6, enforce_down = $7 WHERE id = $1`,
		issue.ID, issue.Title, issue.Description, issue.Status, nullString(issue.AssignedTo),
		nullString(string(issue.ToOffline)), issue.EnforceDown)
	if err != nil {
		return err
	}
	return expectRow(res, "issue", issue.ID)
}

// Comment operations

func (s *PostgresStore) CreateComment(ctx context.Context, comment *types.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comment (id, issue_id, created_by, comment, created_at) VALUES ($1, $2, $3, $4, $5)`,
		comment.ID, comment.IssueID, comment.CreatedBy, comment.Text, comment.CreatedAt)
	if pqCode(err) == foreignKeyViolation {
		return fmt.Errorf("issue %s: %w", comment.IssueID, ErrNotFound)
	}
	return err
}

func (s *PostgresStore) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	if _, err := uuid.Parse(issueID); err != nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issue_id, created_by, comment, created_at FROM comment WHERE issue_id = $1 ORDER BY created_at`,
		issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*types.Comment
	for rows.Next() {
		var c types.Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.CreatedBy, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}
