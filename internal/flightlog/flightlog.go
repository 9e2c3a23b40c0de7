// Package flightlog records finished mission runs in Postgres.
package flightlog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waypointer/guided-mission/internal/mission"
)

// Run is one execution of a plan.
type Run struct {
	MissionID string
	Endpoint  string
	StartedAt time.Time
	EndedAt   time.Time
	State     mission.State
	Error     string
	Outcomes  []mission.Outcome
}

// Recorder writes runs to a connection pool.
type Recorder struct {
	db *pgxpool.Pool
}

// Open connects to databaseURL and makes sure the tables exist.
func Open(ctx context.Context, databaseURL string) (*Recorder, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Recorder{db: pool}, nil
}

func (r *Recorder) Close() {
	r.db.Close()
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mission_runs (
            id BIGSERIAL PRIMARY KEY,
            mission_id TEXT NOT NULL,
            endpoint TEXT NOT NULL,
            state TEXT NOT NULL,
            error TEXT,
            started_at TIMESTAMPTZ NOT NULL,
            ended_at TIMESTAMPTZ NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS waypoint_outcomes (
            run_id BIGINT NOT NULL REFERENCES mission_runs(id) ON DELETE CASCADE,
            idx INTEGER NOT NULL,
            name TEXT NOT NULL,
            north DOUBLE PRECISION NOT NULL,
            east DOUBLE PRECISION NOT NULL,
            target_lat DOUBLE PRECISION NOT NULL,
            target_lon DOUBLE PRECISION NOT NULL,
            target_alt DOUBLE PRECISION NOT NULL,
            achieved_lat DOUBLE PRECISION NOT NULL,
            achieved_lon DOUBLE PRECISION NOT NULL,
            achieved_alt DOUBLE PRECISION NOT NULL,
            distance_error DOUBLE PRECISION NOT NULL,
            elapsed_seconds DOUBLE PRECISION NOT NULL,
            arrived BOOLEAN NOT NULL,
            PRIMARY KEY (run_id, idx)
        )`,
		`CREATE INDEX IF NOT EXISTS mission_runs_mission_id_idx ON mission_runs (mission_id)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record stores run and its outcomes in one transaction and returns the run id.
func (r *Recorder) Record(ctx context.Context, run Run) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var runID int64
	var errText *string
	if run.Error != "" {
		errText = &run.Error
	}
	err = tx.QueryRow(ctx, `INSERT INTO mission_runs (mission_id, endpoint, state, error, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id`,
		run.MissionID, run.Endpoint, string(run.State), errText, run.StartedAt, run.EndedAt,
	).Scan(&runID)
	if err != nil {
		return 0, err
	}

	if len(run.Outcomes) > 0 {
		batch := &pgx.Batch{}
		for _, o := range run.Outcomes {
			batch.Queue(`INSERT INTO waypoint_outcomes (run_id, idx, name, north, east,
            target_lat, target_lon, target_alt, achieved_lat, achieved_lon, achieved_alt,
            distance_error, elapsed_seconds, arrived)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				runID, o.Index, o.Waypoint.Name, o.Waypoint.Offset.North, o.Waypoint.Offset.East,
				o.Target.Lat, o.Target.Lon, o.Target.Alt, o.Achieved.Lat, o.Achieved.Lon, o.Achieved.Alt,
				o.DistanceError, o.ElapsedSeconds, o.Arrived)
		}
		br := tx.SendBatch(ctx, batch)
		for range run.Outcomes {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return 0, err
			}
		}
		if err := br.Close(); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return runID, nil
}

// RunSummary is a row of Recent.
type RunSummary struct {
	ID        int64         `json:"id"`
	MissionID string        `json:"mission_id"`
	State     mission.State `json:"state"`
	Arrived   int           `json:"arrived"`
	Waypoints int           `json:"waypoints"`
	EndedAt   time.Time     `json:"ended_at"`
}

// Recent lists the latest runs of missionID, newest first.
func (r *Recorder) Recent(ctx context.Context, missionID string, limit int) ([]RunSummary, error) {
	rows, err := r.db.Query(ctx, `SELECT m.id, m.mission_id, m.state, m.ended_at,
            COUNT(w.idx) FILTER (WHERE w.arrived), COUNT(w.idx)
        FROM mission_runs m
        LEFT JOIN waypoint_outcomes w ON w.run_id = m.id
        WHERE m.mission_id = $1
        GROUP BY m.id
        ORDER BY m.ended_at DESC
        LIMIT $2`, missionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var s RunSummary
		var state string
		if err := rows.Scan(&s.ID, &s.MissionID, &state, &s.EndedAt, &s.Arrived, &s.Waypoints); err != nil {
			return nil, err
		}
		s.State = mission.State(state)
		runs = append(runs, s)
	}
	return runs, rows.Err()
}
