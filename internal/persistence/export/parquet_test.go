package export

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"lockstep.ai/internal/bridge"
	"lockstep.ai/internal/persistence/trajectory"
	"lockstep.ai/internal/protocol"
)

func writeRun(t *testing.T, dir string) {
	t.Helper()
	rec := trajectory.NewRecorder(dir, trajectory.RecorderOptions{Codec: trajectory.CodecLZ4})
	ep := bridge.Episode{ID: "ep-1", ActivationID: "act-1", Seq: 1, StartLevel: "0", StartedAt: time.Unix(100, 0)}
	rec.EpisodeStarted(ep)
	rec.StepRecorded(bridge.Step{
		EpisodeID:   "ep-1",
		Index:       0,
		At:          time.UnixMilli(100_500),
		Observation: protocol.Observation{LevelName: "0", PlayerX: 4, ScreenWidth: 1, ScreenHeight: 1},
		Pixels:      []byte{9, 9, 9, 255},
		FrameDigest: bridge.FrameDigest([]byte{9, 9, 9, 255}),
		Action:      &protocol.AgentMsg{Type: protocol.TypeAck, MoveX: protocol.Float(-1), Jump: protocol.Bool(true)},
	})
	rec.StepRecorded(bridge.Step{
		EpisodeID:   "ep-1",
		Index:       1,
		Observation: protocol.Observation{LevelName: "0", PlayerDied: true},
		Action:      &protocol.AgentMsg{Type: protocol.TypeReset},
	})
	rec.EpisodeEnded(ep, bridge.EndReset)

	ep2 := bridge.Episode{ID: "ep-2", ActivationID: "act-1", Seq: 2, StartLevel: "0"}
	rec.EpisodeStarted(ep2)
	rec.StepRecorded(bridge.Step{EpisodeID: "ep-2", Index: 0, Fault: protocol.ErrProtoParse})
	if err := rec.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}
}

func TestFromTrajectory(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir)

	rows, err := FromTrajectory(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	r0, r1, r2 := rows[0], rows[1], rows[2]
	if r0.ActivationID != "act-1" || r0.EpisodeSeq != 1 || r0.Last || r0.EndReason != bridge.EndReset {
		t.Fatalf("row 0 = %+v", r0)
	}
	if r0.MoveX == nil || *r0.MoveX != -1 || r0.Jump == nil || !*r0.Jump || r0.Dash != nil {
		t.Fatalf("row 0 controls = %+v", r0)
	}
	if r0.AtUnixMilli != 100_500 || r0.FrameBlake3 != bridge.FrameDigest([]byte{9, 9, 9, 255}) {
		t.Fatalf("row 0 = %+v", r0)
	}
	if !r1.Last || !r1.PlayerDied || r1.ActionType != protocol.TypeReset {
		t.Fatalf("row 1 = %+v", r1)
	}
	if r2.Last || r2.EndReason != "" || r2.Fault != protocol.ErrProtoParse || r2.ActionType != "" || r2.EpisodeSeq != 2 {
		t.Fatalf("row 2 = %+v", r2)
	}
}

func TestWriteParquet(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, filepath.Join(dir, "traj"))
	rows, err := FromTrajectory(filepath.Join(dir, "traj"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	out := filepath.Join(dir, "out", "steps.parquet")
	if err := WriteParquet(out, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := parquet.ReadFile[StepRow](out)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("rows = %d, want %d", len(got), len(rows))
	}
	if got[0].EpisodeID != "ep-1" || got[0].MoveX == nil || *got[0].MoveX != -1 || got[0].MoveY != nil {
		t.Fatalf("row 0 = %+v", got[0])
	}
	if !got[1].Last || got[2].Fault != protocol.ErrProtoParse {
		t.Fatalf("rows = %+v", got)
	}
}
