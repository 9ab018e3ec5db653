// Package export turns recorded trajectories into Parquet training tables.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"lockstep.ai/internal/persistence/trajectory"
)

const SchemaVersion = "lockstep_step_v1"

// StepRow is one observation/reply exchange, flattened for training.
//
// Control columns are null when the agent left the control untouched or the
// reply was rejected (Fault is then set). Last marks the final step of an
// episode whose end was recorded; EndReason repeats the episode's reason on
// every row of it.
type StepRow struct {
	EpisodeID    string `parquet:"episode_id,dict"`
	ActivationID string `parquet:"activation_id,dict"`
	EpisodeSeq   int32  `parquet:"episode_seq"`
	Index        int64  `parquet:"index"`
	AtUnixMilli  int64  `parquet:"at_unix_ms"`

	Level           string  `parquet:"level,dict"`
	PlayerX         float64 `parquet:"player_x"`
	PlayerY         float64 `parquet:"player_y"`
	PlayerDied      bool    `parquet:"player_died"`
	ReachedNextRoom bool    `parquet:"reached_next_room"`
	TargetX         float64 `parquet:"target_x"`
	TargetY         float64 `parquet:"target_y"`

	Width       int32  `parquet:"width"`
	Height      int32  `parquet:"height"`
	FrameBlake3 string `parquet:"frame_blake3"`
	Pixels      []byte `parquet:"pixels,optional,zstd"`

	ActionType string   `parquet:"action_type,dict,optional"`
	MoveX      *float64 `parquet:"move_x,optional"`
	MoveY      *float64 `parquet:"move_y,optional"`
	Jump       *bool    `parquet:"jump,optional"`
	Dash       *bool    `parquet:"dash,optional"`
	Grab       *bool    `parquet:"grab,optional"`
	Fault      string   `parquet:"fault,dict,optional"`

	Last      bool   `parquet:"last"`
	EndReason string `parquet:"end_reason,dict,optional"`
}

func RowFromStep(s trajectory.StepRecord) StepRow {
	r := StepRow{
		EpisodeID:       s.EpisodeID,
		Index:           int64(s.Index),
		AtUnixMilli:     s.At.UnixMilli(),
		Level:           s.Level,
		PlayerX:         s.PlayerX,
		PlayerY:         s.PlayerY,
		PlayerDied:      s.PlayerDied,
		ReachedNextRoom: s.ReachedNextRoom,
		TargetX:         s.TargetX,
		TargetY:         s.TargetY,
		Width:           int32(s.Width),
		Height:          int32(s.Height),
		FrameBlake3:     s.FrameDigest,
		Pixels:          s.Pixels,
		Fault:           s.Fault,
	}
	if a := s.Action; a != nil {
		r.ActionType = a.Type
		r.MoveX, r.MoveY = a.MoveX, a.MoveY
		r.Jump, r.Dash, r.Grab = a.Jump, a.Dash, a.Grab
	}
	return r
}

type episodeInfo struct {
	activation string
	seq        int32
	ended      bool
	reason     string
	lastRow    int
}

// FromTrajectory reads every trajectory file in dir and returns its steps as
// rows, with episode metadata filled in.
func FromTrajectory(dir string) ([]StepRow, error) {
	var rows []StepRow
	eps := map[string]*episodeInfo{}
	get := func(id string) *episodeInfo {
		ep := eps[id]
		if ep == nil {
			ep = &episodeInfo{lastRow: -1}
			eps[id] = ep
		}
		return ep
	}

	err := trajectory.ReadDir(dir, func(rec trajectory.Record) error {
		switch rec.Kind {
		case trajectory.KindEpisodeStart:
			if rec.Episode != nil {
				ep := get(rec.Episode.ID)
				ep.activation = rec.Episode.ActivationID
				ep.seq = int32(rec.Episode.Seq)
			}
		case trajectory.KindStep:
			if rec.Step != nil {
				get(rec.Step.EpisodeID).lastRow = len(rows)
				rows = append(rows, RowFromStep(*rec.Step))
			}
		case trajectory.KindEpisodeEnd:
			if rec.Episode != nil {
				ep := get(rec.Episode.ID)
				ep.ended = true
				ep.reason = rec.Reason
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range rows {
		ep := eps[rows[i].EpisodeID]
		rows[i].ActivationID = ep.activation
		rows[i].EpisodeSeq = ep.seq
		rows[i].EndReason = ep.reason
		rows[i].Last = ep.ended && ep.lastRow == i
	}
	return rows, nil
}

// WriteParquet writes rows to outPath through a temp file and a rename.
func WriteParquet(outPath string, rows []StepRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", SchemaVersion),
	); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}
