package protocol

import (
	"encoding/base64"
	"fmt"
)

// Observation (host -> agent), one per completed draw tick.
type Observation struct {
	PlayerX         float64 `json:"playerXPosition"`
	PlayerY         float64 `json:"playerYPosition"`
	PlayerDied      bool    `json:"playerDied"`
	ReachedNextRoom bool    `json:"playerReachedNextRoom"`
	TargetX         float64 `json:"targetXPosition"`
	TargetY         float64 `json:"targetYPosition"`

	ScreenWidth        int    `json:"screenWidth"`
	ScreenHeight       int    `json:"screenHeight"`
	ScreenPixelsBase64 string `json:"screenPixelsBase64"` // RGBA, row-major

	LevelName string `json:"levelName"`
}

// Pixels decodes the framebuffer payload and checks it against the
// advertised dimensions.
func (o Observation) Pixels() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(o.ScreenPixelsBase64)
	if err != nil {
		return nil, fmt.Errorf("decode pixels: %w", err)
	}
	if want := o.ScreenWidth * o.ScreenHeight * 4; len(b) != want {
		return nil, fmt.Errorf("pixel payload is %d bytes, want %d (%dx%d RGBA)", len(b), want, o.ScreenWidth, o.ScreenHeight)
	}
	return b, nil
}

// AgentMsg (agent -> host), one per Observation.
//
// Every control field is optional. A nil field leaves the control as it is.
type AgentMsg struct {
	Type string `json:"type"`

	MoveX *float64 `json:"moveX,omitempty"`
	MoveY *float64 `json:"moveY,omitempty"`

	Jump *bool `json:"jump,omitempty"`
	Dash *bool `json:"dash,omitempty"`
	Grab *bool `json:"grab,omitempty"`
}

func Ack() AgentMsg      { return AgentMsg{Type: TypeAck} }
func Reset() AgentMsg    { return AgentMsg{Type: TypeReset} }
func Shutdown() AgentMsg { return AgentMsg{Type: TypeShutdown} }

func Float(v float64) *float64 { return &v }
func Bool(v bool) *bool        { return &v }
