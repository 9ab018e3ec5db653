package bridge

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"lockstep.ai/internal/protocol"
)

// Episode end reasons that are not fault codes.
const (
	EndReset  = "reset"
	EndClosed = "closed"
)

type Episode struct {
	ID           string    `json:"episode_id"`
	ActivationID string    `json:"activation_id"`
	Seq          int       `json:"seq"` // 1-based within the activation
	StartLevel   string    `json:"start_level"`
	StartedAt    time.Time `json:"started_at"`

	// Filled in as the episode runs.
	Steps     uint64    `json:"steps"`
	LastLevel string    `json:"last_level"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Step is one completed observation/reply exchange.
type Step struct {
	EpisodeID   string               `json:"episode_id"`
	Index       uint64               `json:"index"`
	At          time.Time            `json:"at"`
	Observation protocol.Observation `json:"observation"`
	Pixels      []byte               `json:"-"`
	FrameDigest string               `json:"frame_blake3"` // FrameDigest(Pixels), computed once per step

	// Action is nil when the reply was rejected; Fault then holds the code.
	Action *protocol.AgentMsg `json:"action,omitempty"`
	Fault  string             `json:"fault,omitempty"`
}

// FrameDigest is the hex BLAKE3-256 of a packed RGBA frame.
func FrameDigest(pix []byte) string {
	h := blake3.New()
	_, _ = h.Write(pix)
	return hex.EncodeToString(h.Sum(nil))
}

// Monitor receives episode and step notifications on the simulation thread.
// Implementations must return quickly.
type Monitor interface {
	EpisodeStarted(ep Episode)
	StepRecorded(s Step)
	EpisodeEnded(ep Episode, reason string)
}

// Monitors fans notifications out in order.
type Monitors []Monitor

func (ms Monitors) EpisodeStarted(ep Episode) {
	for _, m := range ms {
		m.EpisodeStarted(ep)
	}
}

func (ms Monitors) StepRecorded(s Step) {
	for _, m := range ms {
		m.StepRecorded(s)
	}
}

func (ms Monitors) EpisodeEnded(ep Episode, reason string) {
	for _, m := range ms {
		m.EpisodeEnded(ep, reason)
	}
}
