package records

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callsight/internal/calls"
)

// PostgresStore persists call records via database/sql (pgx stdlib driver).
//
// Expected schema:
//
//	CREATE TABLE call_records (
//	    call_id       TEXT PRIMARY KEY,
//	    phone_number  TEXT NOT NULL DEFAULT '',
//	    from_number   TEXT NOT NULL DEFAULT '',
//	    to_number     TEXT NOT NULL DEFAULT '',
//	    direction     TEXT NOT NULL DEFAULT '',
//	    status        TEXT NOT NULL,
//	    start_time    TIMESTAMPTZ NOT NULL,
//	    end_time      TIMESTAMPTZ,
//	    duration      INT NOT NULL DEFAULT 0,
//	    recording_url TEXT NOT NULL DEFAULT '',
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) UpsertCall(ctx context.Context, sess calls.Session) error {
	rec := FromSession(sess)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_records
			(call_id, phone_number, from_number, to_number, direction,
			 status, start_time, end_time, duration, recording_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (call_id) DO UPDATE SET
			phone_number  = EXCLUDED.phone_number,
			from_number   = EXCLUDED.from_number,
			to_number     = EXCLUDED.to_number,
			direction     = EXCLUDED.direction,
			status        = EXCLUDED.status,
			end_time      = EXCLUDED.end_time,
			duration      = EXCLUDED.duration,
			recording_url = EXCLUDED.recording_url,
			updated_at    = EXCLUDED.updated_at`,
		rec.CallID, rec.PhoneNumber, rec.FromNumber, rec.ToNumber, string(rec.Direction),
		string(rec.Status), rec.StartTime, rec.EndTime, rec.DurationSeconds,
		rec.RecordingURL, rec.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT call_id, phone_number, from_number, to_number, direction,
		       status, start_time, end_time, duration, recording_url, updated_at
		FROM call_records
		WHERE call_id = $1`, callID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) ListCalls(ctx context.Context, from, to time.Time) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, phone_number, from_number, to_number, direction,
		       status, start_time, end_time, duration, recording_url, updated_at
		FROM call_records
		WHERE start_time >= $1 AND start_time < $2
		ORDER BY start_time DESC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (CallRecord, error) {
	var (
		rec       CallRecord
		direction string
		status    string
		endTime   sql.NullTime
	)
	err := row.Scan(
		&rec.CallID, &rec.PhoneNumber, &rec.FromNumber, &rec.ToNumber, &direction,
		&status, &rec.StartTime, &endTime, &rec.DurationSeconds,
		&rec.RecordingURL, &rec.UpdatedAt,
	)
	if err != nil {
		return CallRecord{}, err
	}
	rec.Direction = calls.CallDirection(direction)
	rec.Status = calls.CallStatus(status)
	if endTime.Valid {
		t := endTime.Time
		rec.EndTime = &t
	}
	return rec, nil
}
