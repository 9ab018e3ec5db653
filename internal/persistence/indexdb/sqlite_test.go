package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lockstep.ai/internal/bridge"
	"lockstep.ai/internal/protocol"
)

func TestSQLiteIndex_RecordsEpisodesAndSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ep := bridge.Episode{ID: "ep-1", ActivationID: "act-1", Seq: 1, StartLevel: "0", StartedAt: time.Unix(100, 0).UTC()}
	s.EpisodeStarted(ep)
	for i, died := range []bool{false, true, false} {
		s.StepRecorded(bridge.Step{
			EpisodeID:   ep.ID,
			Index:       uint64(i),
			At:          time.Unix(101, 0).UTC(),
			Observation: protocol.Observation{LevelName: "0", PlayerDied: died},
			Pixels:      []byte{1, 2, 3, 4},
			FrameDigest: bridge.FrameDigest([]byte{1, 2, 3, 4}),
			Action:      &protocol.AgentMsg{Type: protocol.TypeAck},
		})
	}
	s.StepRecorded(bridge.Step{EpisodeID: ep.ID, Index: 3, Observation: protocol.Observation{LevelName: "1"}, Fault: protocol.ErrProtoSchema})
	ep.Steps = 4
	ep.LastLevel = "1"
	ep.EndedAt = time.Unix(110, 0).UTC()
	s.EpisodeEnded(ep, bridge.EndReset)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	eps, err := s.Episodes(ctx, 0)
	if err != nil {
		t.Fatalf("episodes: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("episodes = %+v", eps)
	}
	got := eps[0]
	if got.EndReason != bridge.EndReset || got.Steps != 4 || got.LastLevel != "1" || !got.EndedAt.Equal(ep.EndedAt) {
		t.Fatalf("episode row = %+v", got)
	}

	levels, err := s.Levels(ctx)
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	if len(levels) != 2 || levels[0].Level != "0" || levels[0].Steps != 3 || levels[0].Deaths != 1 {
		t.Fatalf("levels = %+v", levels)
	}

	faults, err := s.FaultCounts(ctx)
	if err != nil {
		t.Fatalf("faults: %v", err)
	}
	if faults[protocol.ErrProtoSchema] != 1 || len(faults) != 1 {
		t.Fatalf("faults = %v", faults)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Monitor calls after Close are ignored.
	s.EpisodeStarted(ep)

	// Reopening keeps the data.
	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	eps, err = s2.Episodes(ctx, 1)
	if err != nil || len(eps) != 1 || eps[0].ID != "ep-1" {
		t.Fatalf("reopened episodes = %+v, %v", eps, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqStep}

	s.StepRecorded(bridge.Step{})
	s.EpisodeStarted(bridge.Episode{})
	s.EpisodeEnded(bridge.Episode{}, bridge.EndClosed)

	st := s.Stats()
	if st.DropStepTotal != 1 {
		t.Fatalf("DropStepTotal=%d want=1", st.DropStepTotal)
	}
	if st.DropEpisodeTotal != 2 {
		t.Fatalf("DropEpisodeTotal=%d want=2", st.DropEpisodeTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
