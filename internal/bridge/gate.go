// Package bridge turns a free-running simulation into a step function driven
// by a remote agent. The Gate sits between the engine's frame loop and its
// update/draw functions: it lets exactly one update run per draw, and after
// every draw it sends an observation and blocks until the agent answers.
//
// The blocking receive inside Draw is what paces the simulation; the frame
// rate becomes the agent's response rate. Everything runs on the caller's
// thread.
package bridge

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lockstep.ai/internal/config"
	"lockstep.ai/internal/host"
	"lockstep.ai/internal/protocol"
)

// Transport is the agent connection as the gate sees it.
type Transport interface {
	Send(obs protocol.Observation) error
	Receive() (protocol.AgentMsg, error)
	Close() error
}

type Config struct {
	Enabled bool
	Target  host.Vec2
	Debug   bool
}

func ConfigFrom(c config.Config) Config {
	return Config{
		Enabled: c.Enabled,
		Target:  host.Vec2{X: c.Target.X, Y: c.Target.Y},
		Debug:   c.Debug,
	}
}

type Stats struct {
	Updates           uint64 `json:"updates"`
	SuppressedUpdates uint64 `json:"suppressed_updates"`
	Draws             uint64 `json:"draws"`
	SuppressedDraws   uint64 `json:"suppressed_draws"`
	Steps             uint64 `json:"steps"`
	ProtocolFaults    uint64 `json:"protocol_faults"`
	Resets            uint64 `json:"resets"`
	Disengages        uint64 `json:"disengages"`
}

type Option func(*Gate)

func WithLogger(l *log.Logger) Option { return func(g *Gate) { g.log = l } }
func WithMonitor(m Monitor) Option    { return func(g *Gate) { g.monitor = m } }

type Gate struct {
	cfg       Config
	host      host.Host
	transport Transport
	input     *Injector
	monitor   Monitor
	log       *log.Logger

	enabled atomic.Bool
	closed  bool

	lastWasUpdate bool
	act           *activation

	stats Stats
}

func NewGate(h host.Host, t Transport, cfg Config, opts ...Option) *Gate {
	g := &Gate{
		cfg:       cfg,
		host:      h,
		transport: t,
		input:     NewInjector(h.Input()),
	}
	for _, o := range opts {
		o(g)
	}
	if g.log == nil {
		g.log = log.New(io.Discard, "", 0)
	}
	g.enabled.Store(cfg.Enabled)
	return g
}

// Enabled may be read from any goroutine.
func (g *Gate) Enabled() bool { return g.enabled.Load() }

// SetEnabled turns gating on or off. While off, Update and Draw call
// straight through. Turning it back on after a disengage starts a fresh
// activation with a new connection and a new snapshot.
func (g *Gate) SetEnabled(v bool) {
	if g.closed && v {
		return
	}
	g.enabled.Store(v)
}

func (g *Gate) PendingReset() bool { return g.act != nil && g.act.pendingReset }
func (g *Gate) HasSnapshot() bool  { return g.act != nil && g.act.snapshots.Has() }
func (g *Gate) Stats() Stats       { return g.stats }

func (g *Gate) debugf(format string, args ...any) {
	if g.cfg.Debug {
		g.log.Printf(format, args...)
	}
}

func (g *Gate) activation() *activation {
	if g.act == nil {
		g.act = newActivation(g.cfg.Target, g.log)
		g.log.Printf("bridge active (activation %s)", g.act.id)
	}
	return g.act
}

// Update wraps the engine's update tick. A second update without a draw in
// between is dropped.
func (g *Gate) Update(orig func()) {
	if !g.Enabled() {
		orig()
		return
	}
	if g.lastWasUpdate {
		g.stats.SuppressedUpdates++
		return
	}

	g.prepare(g.activation())
	if !g.Enabled() {
		orig()
		return
	}

	orig()
	g.lastWasUpdate = true
	g.stats.Updates++
}

// Draw wraps the engine's draw tick. It only draws after an update, and once
// the frame is rendered it runs the blocking exchange with the agent.
func (g *Gate) Draw(orig func()) {
	if !g.Enabled() {
		orig()
		return
	}
	if !g.lastWasUpdate {
		g.stats.SuppressedDraws++
		return
	}
	orig()
	g.lastWasUpdate = false
	g.stats.Draws++
	g.exchange()
}

// contain turns a panic in bridge code into a disengage so the host loop
// keeps running. It must be deferred.
func (g *Gate) contain(where string) {
	if r := recover(); r != nil {
		g.log.Printf("%s panicked: %v", where, r)
		g.disengage(protocol.ErrInternal)
	}
}

// prepare handles cutscenes and pending resets ahead of the engine update.
func (g *Gate) prepare(act *activation) {
	defer g.contain("update")

	lvl, ok := g.host.Scene()
	if !ok {
		return
	}
	if lvl.InCutscene() {
		if !lvl.SkippingCutscene() {
			g.log.Printf("skipping cutscene")
			lvl.SkipCutscene()
		}
	} else if act.pendingReset {
		g.tryReset(act, lvl)
	}
}

func (g *Gate) exchange() {
	defer g.contain("step")

	act := g.activation()
	lvl, ok := g.host.Scene()
	if !ok || lvl.Paused() || act.pendingReset {
		return
	}
	if !act.snapshots.Has() {
		act.snapshots.Capture(lvl.Session())
	}

	capture, ok, err := act.encoder.Encode(lvl)
	if err != nil {
		g.log.Printf("capture observation: %v", err)
		return
	}
	if !ok {
		return
	}
	ep := g.episode(act, capture.Observation.LevelName)

	if err := g.transport.Send(capture.Observation); err != nil {
		g.log.Printf("send observation: %v", err)
		g.disengage(faultCode(err, protocol.ErrTransportWrite))
		return
	}
	g.debugf("waiting for reply")
	msg, err := g.transport.Receive()
	if err != nil {
		if protocol.IsProtocolFault(err) {
			g.stats.ProtocolFaults++
			g.log.Printf("agent reply rejected: %v", err)
			g.record(ep, capture, nil, protocol.CodeOf(err))
			return
		}
		g.log.Printf("receive reply: %v", err)
		g.disengage(faultCode(err, protocol.ErrTransportRead))
		return
	}
	g.record(ep, capture, &msg, "")

	switch msg.Type {
	case protocol.TypeAck:
		g.input.Apply(msg)
		g.debugf("applied inputs")
	case protocol.TypeReset:
		g.log.Printf("reset requested by agent")
		act.pendingReset = true
	case protocol.TypeShutdown:
		g.log.Printf("shutdown requested by agent")
		g.disengage(protocol.ErrRemoteShutdown)
	}
}

// tryReset runs a pending reset once the level is out of any transition and
// the player is present and alive; otherwise it waits for a later update.
func (g *Gate) tryReset(act *activation, lvl host.Level) {
	if lvl.Transitioning() {
		return
	}
	p := lvl.Player()
	if p == nil || p.Dead() {
		return
	}

	g.log.Printf("resetting game state to start of %s", act.snapshots.Level())
	g.input.Neutralize()
	act.snapshots.Restore(lvl, p)
	act.encoder.Forget()
	act.pendingReset = false
	g.endEpisode(act, EndReset)
	g.stats.Resets++
}

// disengage tears the activation down and turns the bridge off, leaving the
// engine to run unmodified.
func (g *Gate) disengage(reason string) {
	if err := g.transport.Close(); err != nil {
		g.log.Printf("close transport: %v", err)
	}
	g.input.Neutralize()
	if act := g.act; act != nil {
		act.snapshots.Clear()
		act.pendingReset = false
		g.endEpisode(act, reason)
	}
	g.act = nil
	g.enabled.Store(false)
	g.stats.Disengages++
	g.log.Printf("connection cleaned up, bridge disabled (%s)", reason)
}

// Close detaches the gate for good: inputs are released, the connection is
// closed and both hooks pass through from now on.
func (g *Gate) Close() {
	if g.closed {
		return
	}
	g.closed = true
	g.disengage(EndClosed)
}

func (g *Gate) episode(act *activation, level string) *Episode {
	if act.episode == nil {
		act.episodes++
		act.episode = &Episode{
			ID:           uuid.NewString(),
			ActivationID: act.id,
			Seq:          act.episodes,
			StartLevel:   level,
			StartedAt:    time.Now().UTC(),
		}
		if g.monitor != nil {
			g.monitor.EpisodeStarted(*act.episode)
		}
	}
	return act.episode
}

func (g *Gate) endEpisode(act *activation, reason string) {
	ep := act.episode
	if ep == nil {
		return
	}
	act.episode = nil
	ep.EndedAt = time.Now().UTC()
	if g.monitor != nil {
		g.monitor.EpisodeEnded(*ep, reason)
	}
}

func (g *Gate) record(ep *Episode, c Capture, msg *protocol.AgentMsg, fault string) {
	s := Step{
		EpisodeID:   ep.ID,
		Index:       ep.Steps,
		At:          time.Now().UTC(),
		Observation: c.Observation,
		Pixels:      c.Pixels,
		FrameDigest: FrameDigest(c.Pixels),
		Action:      msg,
		Fault:       fault,
	}
	ep.Steps++
	ep.LastLevel = c.Observation.LevelName
	g.stats.Steps++
	if g.monitor != nil {
		g.monitor.StepRecorded(s)
	}
}

func faultCode(err error, fallback string) string {
	if code := protocol.CodeOf(err); code != "" {
		return code
	}
	return fallback
}

func (s Stats) String() string {
	return fmt.Sprintf("updates=%d (suppressed %d) draws=%d (suppressed %d) steps=%d faults=%d resets=%d disengages=%d",
		s.Updates, s.SuppressedUpdates, s.Draws, s.SuppressedDraws, s.Steps, s.ProtocolFaults, s.Resets, s.Disengages)
}
