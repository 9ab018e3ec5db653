// Package indexdb keeps a queryable SQLite index of bridge episodes and
// steps next to the trajectory files, which stay the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"lockstep.ai/internal/bridge"
	"lockstep.ai/internal/persistence/trajectory"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEpisodes atomic.Uint64
	dropSteps    atomic.Uint64
}

type reqKind int

const (
	reqEpisodeStart reqKind = iota + 1
	reqStep
	reqEpisodeEnd
	reqSync
)

type req struct {
	kind reqKind

	episode bridge.Episode
	reason  string
	step    trajectory.StepRecord
	done    chan struct{}
}

type Stats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	DropEpisodeTotal uint64 `json:"drop_episode_total"`
	DropStepTotal    uint64 `json:"drop_step_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			episode_id TEXT PRIMARY KEY,
			activation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			start_level TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			end_reason TEXT,
			steps INTEGER NOT NULL DEFAULT 0,
			last_level TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_activation ON episodes(activation_id, seq);`,
		`CREATE TABLE IF NOT EXISTS steps (
			episode_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			at TEXT NOT NULL,
			level TEXT NOT NULL,
			player_x REAL NOT NULL,
			player_y REAL NOT NULL,
			died INTEGER NOT NULL,
			reached_next_room INTEGER NOT NULL,
			frame_blake3 TEXT NOT NULL,
			action_json TEXT,
			fault TEXT,
			PRIMARY KEY (episode_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_level ON steps(level);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropEpisodeTotal: s.dropEpisodes.Load(),
		DropStepTotal:    s.dropSteps.Load(),
	}
}

// EpisodeStarted, StepRecorded and EpisodeEnded make the index a
// bridge.Monitor. They never block: when the writer falls behind the
// request is dropped and counted.
func (s *SQLiteIndex) EpisodeStarted(ep bridge.Episode) {
	s.enqueue(req{kind: reqEpisodeStart, episode: ep}, &s.dropEpisodes)
}

func (s *SQLiteIndex) StepRecorded(st bridge.Step) {
	s.enqueue(req{kind: reqStep, step: trajectory.NewStepRecord(st, false)}, &s.dropSteps)
}

func (s *SQLiteIndex) EpisodeEnded(ep bridge.Episode, reason string) {
	s.enqueue(req{kind: reqEpisodeEnd, episode: ep, reason: reason}, &s.dropEpisodes)
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

// Sync waits until everything queued so far is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEpisode, _ := s.db.Prepare(`INSERT OR REPLACE INTO episodes(episode_id,activation_id,seq,start_level,started_at,steps) VALUES(?,?,?,?,?,0)`)
	endEpisode, _ := s.db.Prepare(`UPDATE episodes SET ended_at=?, end_reason=?, steps=?, last_level=? WHERE episode_id=?`)
	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(episode_id,idx,at,level,player_x,player_y,died,reached_next_room,frame_blake3,action_json,fault) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEpisode, endEpisode, insertStep} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(stmt *sql.Stmt, args ...any) {
		if stmt == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(stmt).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEpisodeStart:
			ep := r.episode
			exec(insertEpisode, ep.ID, ep.ActivationID, ep.Seq, ep.StartLevel, ep.StartedAt.Format(time.RFC3339Nano))

		case reqStep:
			st := r.step
			var action any
			if st.Action != nil {
				b, _ := json.Marshal(st.Action)
				action = string(b)
			}
			var fault any
			if st.Fault != "" {
				fault = st.Fault
			}
			exec(insertStep,
				st.EpisodeID,
				int64(st.Index),
				st.At.Format(time.RFC3339Nano),
				st.Level,
				st.PlayerX,
				st.PlayerY,
				st.PlayerDied,
				st.ReachedNextRoom,
				st.FrameDigest,
				action,
				fault,
			)

		case reqEpisodeEnd:
			ep := r.episode
			exec(endEpisode, ep.EndedAt.Format(time.RFC3339Nano), r.reason, int64(ep.Steps), ep.LastLevel, ep.ID)
			// Commit at every episode boundary.
			commit()
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
