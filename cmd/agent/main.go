// Command agent is a reference policy for the lockstep bridge. It listens for
// the host, answers every observation with one control message, and asks for
// episode resets on a fixed schedule.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lockstep.ai/internal/protocol"
)

type options struct {
	addr         string
	policy       string
	resetEvery   int
	resetOnDeath bool
	shutdownAt   int
	validate     bool
	seed         int64
}

func main() {
	for _, envFile := range []string{".env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	opts := options{
		addr:         envOr("LOCKSTEP_AGENT_ADDR", "127.0.0.1:5000"),
		policy:       envOr("LOCKSTEP_AGENT_POLICY", "random"),
		resetEvery:   envInt("LOCKSTEP_AGENT_RESET_EVERY", 600),
		resetOnDeath: true,
		validate:     true,
		seed:         1,
	}

	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "Reference agent for the lockstep bridge",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for the host and drive it with a simple policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts)
		},
	}
	f := serveCmd.Flags()
	f.StringVar(&opts.addr, "addr", opts.addr, "listen address (env LOCKSTEP_AGENT_ADDR)")
	f.StringVar(&opts.policy, "policy", opts.policy, "policy: random, right or idle (env LOCKSTEP_AGENT_POLICY)")
	f.IntVar(&opts.resetEvery, "reset-every", opts.resetEvery, "request a reset after this many steps in an episode (0 = never)")
	f.BoolVar(&opts.resetOnDeath, "reset-on-death", opts.resetOnDeath, "request a reset when the player dies")
	f.IntVar(&opts.shutdownAt, "shutdown-after", 0, "send shutdown after this many total steps (0 = never)")
	f.BoolVar(&opts.validate, "validate", opts.validate, "validate observations against the schema")
	f.Int64Var(&opts.seed, "seed", opts.seed, "policy random seed")

	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(opts options) error {
	pol, err := newPolicy(opts.policy, opts.seed)
	if err != nil {
		return err
	}
	logger := log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lmicroseconds)

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	logger.Printf("listening on %s (policy=%s)", ln.Addr(), opts.policy)

	total := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		logger.Printf("host connected from %s", conn.RemoteAddr())
		done, err := session(conn, pol, opts, &total, logger)
		_ = conn.Close()
		if err != nil {
			logger.Printf("session ended: %v", err)
		}
		if done {
			logger.Printf("shutdown sent after %d steps", total)
			return nil
		}
	}
}

// session runs one connection. It reports true once shutdown was sent.
func session(conn net.Conn, pol policy, opts options, total *int, logger *log.Logger) (bool, error) {
	dec := json.NewDecoder(conn)
	steps := 0
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}
		if opts.validate {
			var doc any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return false, err
			}
			if err := protocol.ValidateObservation(doc); err != nil {
				return false, fmt.Errorf("observation: %w", err)
			}
		}
		var obs protocol.Observation
		if err := json.Unmarshal(raw, &obs); err != nil {
			return false, err
		}
		steps++
		*total++

		var reply protocol.AgentMsg
		switch {
		case opts.shutdownAt > 0 && *total >= opts.shutdownAt:
			reply = protocol.Shutdown()
		case obs.PlayerDied && opts.resetOnDeath,
			obs.ReachedNextRoom,
			opts.resetEvery > 0 && steps >= opts.resetEvery:
			logger.Printf("reset after %d steps (level=%s died=%v next_room=%v)", steps, obs.LevelName, obs.PlayerDied, obs.ReachedNextRoom)
			reply = protocol.Reset()
			steps = 0
		default:
			reply = pol.act(obs)
		}

		b, err := json.Marshal(reply)
		if err != nil {
			return false, err
		}
		// One write per reply; the host reads a single message per step.
		if _, err := conn.Write(b); err != nil {
			return false, err
		}
		if reply.Type == protocol.TypeShutdown {
			return true, nil
		}
	}
}

type policy interface {
	act(obs protocol.Observation) protocol.AgentMsg
}

func newPolicy(name string, seed int64) (policy, error) {
	switch name {
	case "random":
		return &randomPolicy{rng: rand.New(rand.NewSource(seed))}, nil
	case "right":
		return rightPolicy{}, nil
	case "idle":
		return idlePolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

type randomPolicy struct{ rng *rand.Rand }

func (p *randomPolicy) act(protocol.Observation) protocol.AgentMsg {
	m := protocol.Ack()
	m.MoveX = protocol.Float(float64(p.rng.Intn(3) - 1))
	m.MoveY = protocol.Float(float64(p.rng.Intn(3) - 1))
	m.Jump = protocol.Bool(p.rng.Intn(4) == 0)
	m.Dash = protocol.Bool(p.rng.Intn(16) == 0)
	m.Grab = protocol.Bool(p.rng.Intn(8) == 0)
	return m
}

// rightPolicy holds right and toggles jump by position so each hop is a
// fresh press.
type rightPolicy struct{}

func (rightPolicy) act(obs protocol.Observation) protocol.AgentMsg {
	m := protocol.Ack()
	m.MoveX = protocol.Float(1)
	m.Jump = protocol.Bool(int(obs.PlayerX)%32 < 16)
	return m
}

type idlePolicy struct{}

func (idlePolicy) act(protocol.Observation) protocol.AgentMsg { return protocol.Ack() }

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
