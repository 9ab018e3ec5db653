package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lockstep.ai/internal/bridge"
	"lockstep.ai/internal/config"
	"lockstep.ai/internal/persistence/indexdb"
	"lockstep.ai/internal/persistence/objectstore"
	"lockstep.ai/internal/persistence/trajectory"
	"lockstep.ai/internal/sim/headless"
	"lockstep.ai/internal/transport/observer"
	"lockstep.ai/internal/transport/tcp"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to bridge yaml config (optional)")
		mapPath    = flag.String("map", "", "path to a headless map yaml (default: built-in prologue)")
		frames     = flag.Uint64("frames", 0, "stop after this many drawn frames (0 = run until interrupted)")
		fps        = flag.Int("fps", 60, "frame rate while the bridge is disabled")
		remote     = flag.String("remote", "", "agent address (overrides config remote_addr)")
		local      = flag.String("local", "", "local bind address (overrides config local_addr)")
		disabled   = flag.Bool("disabled", false, "start with the bridge disabled")
		debug      = flag.Bool("debug", false, "verbose per-step logging")
		recordDir  = flag.String("record", "", "trajectory directory (overrides config recorder.dir)")
		indexPath  = flag.String("index", "", "sqlite index path (overrides config index.path)")
		obsListen  = flag.String("observer", "", "spectator listen address (overrides config observer.listen)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmicroseconds)

	for _, envFile := range []string{".env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	cfg := config.Defaults()
	if p := strings.TrimSpace(*configPath); p != "" {
		c, err := config.Load(p)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
		cfg = c
	}
	if *remote != "" {
		cfg.RemoteAddr = *remote
	}
	if *local != "" {
		cfg.LocalAddr = *local
	}
	if *disabled {
		cfg.Enabled = false
	}
	if *debug {
		cfg.Debug = true
	}
	if *recordDir != "" {
		cfg.Recorder.Dir = *recordDir
	}
	if *indexPath != "" {
		cfg.Index.Path = *indexPath
	}
	if *obsListen != "" {
		cfg.Observer.Listen = *obsListen
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	opts := headless.Options{Logger: log.New(os.Stdout, "[sim] ", log.LstdFlags|log.Lmicroseconds)}
	if p := strings.TrimSpace(*mapPath); p != "" {
		m, err := headless.LoadMap(p)
		if err != nil {
			logger.Fatalf("load map: %v", err)
		}
		opts.Map = &m
	}
	w, err := headless.New(opts)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	w.Start()

	var monitors bridge.Monitors

	mirror, err := buildMirror(cfg, log.New(os.Stdout, "[mirror] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	// Runs after the recorder's deferred Close so the last segment is queued.
	defer mirror.Close()

	if cfg.Recorder.Dir != "" {
		codec, err := trajectory.ParseCodec(cfg.Recorder.Codec)
		if err != nil {
			logger.Fatalf("recorder: %v", err)
		}
		ropts := trajectory.RecorderOptions{
			Codec:         codec,
			IncludePixels: cfg.Recorder.IncludePixels,
			Logger:        logger,
		}
		if mirror != nil {
			ropts.SegmentClosed = mirror.Enqueue
		}
		rec := trajectory.NewRecorder(cfg.Recorder.Dir, ropts)
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Printf("close recorder: %v", err)
			}
			logger.Printf("recorder: %d records, %d write errors", rec.Records(), rec.Errors())
		}()
		monitors = append(monitors, rec)
	}

	var idx *indexdb.SQLiteIndex
	if cfg.Index.Path != "" {
		idx, err = indexdb.OpenSQLite(cfg.Index.Path)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		monitors = append(monitors, idx)
	}

	var obs *observer.Server
	if cfg.Observer.Listen != "" {
		obs = observer.NewServer(log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
		monitors = append(monitors, obs)
	}

	client := tcp.NewClient(tcp.ConfigFrom(cfg), log.New(os.Stdout, "[tcp] ", log.LstdFlags|log.Lmicroseconds))
	gateOpts := []bridge.Option{bridge.WithLogger(log.New(os.Stdout, "[bridge] ", log.LstdFlags|log.Lmicroseconds))}
	if len(monitors) > 0 {
		gateOpts = append(gateOpts, bridge.WithMonitor(monitors))
	}
	gate := bridge.NewGate(w, client, bridge.ConfigFrom(cfg), gateOpts...)

	ctx, cancel := signalContext()
	defer cancel()

	// Stats are produced on the simulation thread and published for HTTP.
	var published atomic.Value
	published.Store(gate.Stats())

	var srv *http.Server
	if obs != nil {
		mux := http.NewServeMux()
		mux.Handle("/observer/", obs.Handler())
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
		mux.HandleFunc("/stats", func(rw http.ResponseWriter, r *http.Request) {
			resp := struct {
				Gate   bridge.Stats       `json:"gate"`
				Index  *indexdb.Stats     `json:"index,omitempty"`
				Mirror *objectstore.Stats `json:"mirror,omitempty"`
			}{Gate: published.Load().(bridge.Stats)}
			if idx != nil {
				st := idx.Stats()
				resp.Index = &st
			}
			if mirror != nil {
				st := mirror.Stats()
				resp.Mirror = &st
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(resp)
		})
		srv = &http.Server{
			Addr:              cfg.Observer.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("observer listening on %s", cfg.Observer.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("observer server: %v", err)
			}
		}()
	}

	// SIGUSR1 toggles the bridge, SIGUSR2 toggles pause. Both are applied on
	// the simulation thread.
	toggles := make(chan os.Signal, 4)
	signal.Notify(toggles, syscall.SIGUSR1, syscall.SIGUSR2)

	logger.Printf("running (bridge enabled=%v remote=%s local=%s)", gate.Enabled(), cfg.RemoteAddr, cfg.LocalAddr)
	run(ctx, w, gate, toggles, *frames, *fps, &published, logger)

	gate.Close()
	logger.Printf("stopped: %s", gate.Stats())
	if srv != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}
}

func run(ctx context.Context, w *headless.World, gate *bridge.Gate, toggles <-chan os.Signal, frames uint64, fps int, published *atomic.Value, logger *log.Logger) {
	if fps <= 0 {
		fps = 60
	}
	tick := time.NewTicker(time.Second / time.Duration(fps))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-toggles:
			switch sig {
			case syscall.SIGUSR1:
				gate.SetEnabled(!gate.Enabled())
				logger.Printf("bridge enabled=%v", gate.Enabled())
			case syscall.SIGUSR2:
				if lvl := w.Level(); lvl != nil {
					w.SetPaused(!lvl.Paused())
					logger.Printf("paused=%v", lvl.Paused())
				}
			}
		default:
		}

		// The engine calls update and draw once per frame; the gate decides
		// which of them actually run.
		gate.Update(w.Update)
		gate.Draw(w.Draw)
		published.Store(gate.Stats())

		if frames > 0 && w.Draws() >= frames {
			return
		}
		// With the bridge engaged the agent sets the pace.
		if !gate.Enabled() {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
