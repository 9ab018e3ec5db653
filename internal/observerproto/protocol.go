// Package observerproto defines the spectator stream served next to the
// bridge. It is separate from the agent wire protocol and never affects
// pacing.
package observerproto

import "lockstep.ai/internal/protocol"

// Version is the observer protocol version.
const Version = "1"

const (
	TypeSubscribe    = "SUBSCRIBE"
	TypeEpisodeStart = "EPISODE_START"
	TypeEpisodeEnd   = "EPISODE_END"
	TypeStep         = "STEP"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Frames asks for the RGBA framebuffer on every FrameEvery-th step.
	Frames     bool `json:"frames,omitempty"`
	FrameEvery int  `json:"frame_every,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	Episode         *EpisodeInfo `json:"episode,omitempty"`
	Subscribers     int          `json:"subscribers"`
	Dropped         uint64       `json:"dropped"`
}

type EpisodeInfo struct {
	EpisodeID    string `json:"episode_id"`
	ActivationID string `json:"activation_id"`
	Seq          int    `json:"seq"`
	StartLevel   string `json:"start_level"`
	Steps        uint64 `json:"steps"`
	LastLevel    string `json:"last_level,omitempty"`
}

// Server -> Client. Sent when an episode starts or ends.
type EpisodeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Episode         EpisodeInfo `json:"episode"`
	Reason          string      `json:"reason,omitempty"`
}

// Server -> Client. Sent after every completed exchange.
type StepMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EpisodeID       string `json:"episode_id"`
	Index           uint64 `json:"index"`

	Level           string  `json:"level"`
	PlayerX         float64 `json:"player_x"`
	PlayerY         float64 `json:"player_y"`
	PlayerDied      bool    `json:"player_died"`
	ReachedNextRoom bool    `json:"reached_next_room"`

	Action *protocol.AgentMsg `json:"action,omitempty"`
	Fault  string             `json:"fault,omitempty"`

	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FrameBlake3 string `json:"frame_blake3"`
	// Frame is base64 RGBA, row-major; only set for subscribers that asked.
	Frame string `json:"frame,omitempty"`
}
