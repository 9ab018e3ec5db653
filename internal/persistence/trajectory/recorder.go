package trajectory

import (
	"io"
	"log"
	"sync/atomic"
	"time"

	"lockstep.ai/internal/bridge"
	"lockstep.ai/internal/protocol"
)

const (
	KindEpisodeStart = "episode_start"
	KindStep         = "step"
	KindEpisodeEnd   = "episode_end"
)

// Record is one line of a trajectory file.
type Record struct {
	Kind    string          `json:"kind"`
	Episode *bridge.Episode `json:"episode,omitempty"`
	Step    *StepRecord     `json:"step,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// StepRecord is a Step with the frame reduced to a digest. Pixels are only
// kept when the recorder was asked to.
type StepRecord struct {
	EpisodeID string    `json:"episode_id"`
	Index     uint64    `json:"index"`
	At        time.Time `json:"at"`

	PlayerX         float64 `json:"player_x"`
	PlayerY         float64 `json:"player_y"`
	PlayerDied      bool    `json:"player_died"`
	ReachedNextRoom bool    `json:"reached_next_room"`
	TargetX         float64 `json:"target_x"`
	TargetY         float64 `json:"target_y"`
	Level           string  `json:"level"`

	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FrameDigest string `json:"frame_blake3"`
	Pixels      []byte `json:"pixels,omitempty"`

	Action *protocol.AgentMsg `json:"action,omitempty"`
	Fault  string             `json:"fault,omitempty"`
}

func NewStepRecord(s bridge.Step, withPixels bool) StepRecord {
	o := s.Observation
	r := StepRecord{
		EpisodeID:       s.EpisodeID,
		Index:           s.Index,
		At:              s.At,
		PlayerX:         o.PlayerX,
		PlayerY:         o.PlayerY,
		PlayerDied:      o.PlayerDied,
		ReachedNextRoom: o.ReachedNextRoom,
		TargetX:         o.TargetX,
		TargetY:         o.TargetY,
		Level:           o.LevelName,
		Width:           o.ScreenWidth,
		Height:          o.ScreenHeight,
		FrameDigest:     s.FrameDigest,
		Action:          s.Action,
		Fault:           s.Fault,
	}
	if withPixels {
		r.Pixels = append([]byte(nil), s.Pixels...)
	}
	return r
}

type RecorderOptions struct {
	Codec         Codec
	IncludePixels bool
	Logger        *log.Logger

	// SegmentClosed, if set, receives each finished trajectory file.
	SegmentClosed func(path string)
}

// Recorder is a bridge.Monitor that writes every notification to disk.
// Write failures are logged and counted; they never stall the bridge.
type Recorder struct {
	w      *JSONLWriter
	pixels bool
	log    *log.Logger

	records atomic.Uint64
	errors  atomic.Uint64
}

func NewRecorder(dir string, opts RecorderOptions) *Recorder {
	codec := opts.Codec
	if codec == "" {
		codec = CodecZstd
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := NewJSONLWriter(dir, "trajectory", codec)
	if opts.SegmentClosed != nil {
		w.OnClose(opts.SegmentClosed)
	}
	return &Recorder{
		w:      w,
		pixels: opts.IncludePixels,
		log:    logger,
	}
}

func (r *Recorder) EpisodeStarted(ep bridge.Episode) {
	r.write(Record{Kind: KindEpisodeStart, Episode: &ep})
}

func (r *Recorder) StepRecorded(s bridge.Step) {
	sr := NewStepRecord(s, r.pixels)
	r.write(Record{Kind: KindStep, Step: &sr})
}

// EpisodeEnded also flushes, so a finished episode is readable even if the
// process dies before Close.
func (r *Recorder) EpisodeEnded(ep bridge.Episode, reason string) {
	r.write(Record{Kind: KindEpisodeEnd, Episode: &ep, Reason: reason})
	if err := r.w.Flush(); err != nil {
		r.fail(err)
	}
}

func (r *Recorder) Records() uint64 { return r.records.Load() }
func (r *Recorder) Errors() uint64  { return r.errors.Load() }
func (r *Recorder) Path() string    { return r.w.Path() }

func (r *Recorder) Close() error { return r.w.Close() }

func (r *Recorder) write(rec Record) {
	if err := r.w.Write(rec); err != nil {
		r.fail(err)
		return
	}
	r.records.Add(1)
}

func (r *Recorder) fail(err error) {
	if r.errors.Add(1) == 1 {
		r.log.Printf("trajectory write failed: %v", err)
	}
}
