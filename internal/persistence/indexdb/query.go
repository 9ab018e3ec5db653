package indexdb

import (
	"context"
	"database/sql"
	"time"
)

type EpisodeRow struct {
	ID           string    `json:"episode_id"`
	ActivationID string    `json:"activation_id"`
	Seq          int       `json:"seq"`
	StartLevel   string    `json:"start_level"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	EndReason    string    `json:"end_reason,omitempty"`
	Steps        int64     `json:"steps"`
	LastLevel    string    `json:"last_level,omitempty"`
}

// Episodes returns the most recent episodes first. limit <= 0 means all.
func (s *SQLiteIndex) Episodes(ctx context.Context, limit int) ([]EpisodeRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT episode_id, activation_id, seq, start_level, started_at,
		ended_at, end_reason, steps, last_level
		FROM episodes ORDER BY started_at DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EpisodeRow
	for rows.Next() {
		var (
			r                  EpisodeRow
			started            string
			ended, reason, lvl sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ActivationID, &r.Seq, &r.StartLevel, &started, &ended, &reason, &r.Steps, &lvl); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if ended.Valid {
			r.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
		}
		r.EndReason = reason.String
		r.LastLevel = lvl.String
		out = append(out, r)
	}
	return out, rows.Err()
}

type LevelCount struct {
	Level  string `json:"level"`
	Steps  int64  `json:"steps"`
	Deaths int64  `json:"deaths"`
}

// Levels aggregates recorded steps per level.
func (s *SQLiteIndex) Levels(ctx context.Context) ([]LevelCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT level, COUNT(*), SUM(died) FROM steps GROUP BY level ORDER BY level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LevelCount
	for rows.Next() {
		var c LevelCount
		if err := rows.Scan(&c.Level, &c.Steps, &c.Deaths); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FaultCounts counts rejected replies by fault code.
func (s *SQLiteIndex) FaultCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fault, COUNT(*) FROM steps WHERE fault IS NOT NULL GROUP BY fault`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			code string
			n    int64
		)
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		out[code] = n
	}
	return out, rows.Err()
}
