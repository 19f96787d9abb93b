package persist

import (
	"context"
	"encoding/json"
	"time"

	"backend-kapture/internal/db"
	"backend-kapture/internal/run"

	"github.com/google/uuid"
)

// Store implements run.PersistenceGateway over Postgres. Batches are keyed by
// (session_id, batch_index) with DO NOTHING on conflict, so a retried flush
// never duplicates points.
type Store struct {
	db db.Querier
}

func NewStore(q db.Querier) *Store {
	return &Store{db: q}
}

func (s *Store) StartSession(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	row := s.db.QueryRow(ctx, `
		INSERT INTO run_sessions (id, user_id, status, started_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, id, userID, run.StatusActive, time.Now())
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SaveLocationBatch(ctx context.Context, sessionID string, points []run.LocationPoint, batchIndex int) error {
	payload, err := json.Marshal(points)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO location_batches (session_id, batch_index, points, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (session_id, batch_index) DO NOTHING
	`, sessionID, batchIndex, payload, time.Now())
	return err
}

func (s *Store) UpdateStatus(ctx context.Context, sessionID, status string, pausedDurationMs int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE run_sessions SET status=$2, paused_duration_ms=$3 WHERE id=$1
	`, sessionID, status, pausedDurationMs)
	return err
}

func (s *Store) FinishSession(ctx context.Context, sessionID string, final run.Stats, pausedDurationMs int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE run_sessions
		SET status=$2, ended_at=$3, distance_km=$4, duration_sec=$5,
		    avg_pace_sec_per_km=$6, captured_area_m2=$7, paused_duration_ms=$8
		WHERE id=$1
	`, sessionID, run.StatusCompleted, time.Now(), final.DistanceKm, final.DurationSec,
		final.AveragePaceSecPerKm, final.CapturedAreaM2, pausedDurationMs)
	return err
}

// Session reads one persisted run session.
func (s *Store) Session(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, status, started_at, COALESCE(ended_at, 'epoch'::timestamptz),
		       COALESCE(distance_km,0), COALESCE(duration_sec,0),
		       COALESCE(avg_pace_sec_per_km,0), COALESCE(captured_area_m2,0),
		       COALESCE(paused_duration_ms,0)
		FROM run_sessions WHERE id=$1
	`, sessionID)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.StartedAt, &sess.EndedAt,
		&sess.DistanceKm, &sess.DurationSec, &sess.AvgPaceSecPerKm, &sess.CapturedAreaM2,
		&sess.PausedDurationMs); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Batches reads a session's validated points back in flush order, for route
// rendering of finished runs.
func (s *Store) Batches(ctx context.Context, sessionID string) ([]run.LocationPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT points FROM location_batches WHERE session_id=$1 ORDER BY batch_index
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []run.LocationPoint
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var batch []run.LocationPoint
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, err
		}
		points = append(points, batch...)
	}
	return points, rows.Err()
}
