package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// Run statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type Store struct {
	DB *sql.DB
}

// RunRecord is one row of runs.
type RunRecord struct {
	ID         string
	Kind       string
	Request    string
	Status     string
	Params     json.RawMessage
	Result     json.RawMessage
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// EventRecord is one row of run_events. Seq is assigned by the caller and
// is unique per run.
type EventRecord struct {
	RunID     string
	Seq       int64
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Migrate applies the migrations in dir (e.g. file://migrations). steps of 0
// means all the way in the given direction. ErrNoChange is not an error.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = "file://migrations"
	}
	if dsn == "" {
		return errors.New("migrate: database dsn is required")
	}
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return raw
}

func (s *Store) CreateRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run id must be provided")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (id, kind, request, status, params, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
`, rec.ID, rec.Kind, rec.Request, rec.Status, jsonOrEmpty(rec.Params))
	return err
}

func (s *Store) MarkRunStarted(ctx context.Context, runID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$2, started_at=NOW() WHERE id=$1`, runID, StatusRunning)
	return err
}

// FinishRun stores the terminal status, the result document and the error.
func (s *Store) FinishRun(ctx context.Context, runID, status string, result json.RawMessage, errMsg *string) error {
	var res any
	if len(result) > 0 {
		res = []byte(result)
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$2, result=$3, error=$4, finished_at=NOW() WHERE id=$1`, runID, status, res, errMsg)
	return err
}

const runColumns = `id, kind, request, status, params, result, error, created_at, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (RunRecord, error) {
	var (
		rec            RunRecord
		params, result []byte
		errMsg         sql.NullString
		started, ended sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.Request, &rec.Status, &params, &result, &errMsg, &rec.CreatedAt, &started, &ended); err != nil {
		return RunRecord{}, err
	}
	rec.Params = append(json.RawMessage{}, params...)
	if len(result) > 0 {
		rec.Result = append(json.RawMessage{}, result...)
	}
	rec.Error = errMsg.String
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if ended.Valid {
		rec.FinishedAt = &ended.Time
	}
	return rec, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	rec, err := scanRun(s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

// ListRuns returns the newest runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FailInterruptedRuns marks runs left queued or running by a previous
// process as failed. It returns the number of rows updated.
func (s *Store) FailInterruptedRuns(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE runs SET status=$1, error=$2, finished_at=NOW()
WHERE status IN ($3,$4)
`, StatusFailed, "interrupted by restart", StatusQueued, StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) AppendEvent(ctx context.Context, ev EventRecord) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO run_events (run_id, seq, type, payload, created_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (run_id, seq) DO NOTHING
`, ev.RunID, ev.Seq, ev.Type, jsonOrEmpty(ev.Payload))
	return err
}

// ListEvents returns the events of a run with seq greater than afterSeq.
func (s *Store) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]EventRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, seq, type, payload, created_at
FROM run_events
WHERE run_id=$1 AND seq>$2
ORDER BY seq ASC
`, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRecord
	for rows.Next() {
		var ev EventRecord
		var payload []byte
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Payload = append(json.RawMessage{}, payload...)
		out = append(out, ev)
	}
	return out, rows.Err()
}
