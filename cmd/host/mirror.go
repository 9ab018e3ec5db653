package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"lockstep.ai/internal/config"
	"lockstep.ai/internal/persistence/objectstore"
)

// buildMirror returns nil when mirroring is not configured. Keys are taken
// relative to the recorder directory's parent, so segments land under
// <prefix>/<recorder dir name>/.
func buildMirror(cfg config.Config, logger *log.Logger) (*objectstore.Mirror, error) {
	if cfg.Mirror.Endpoint == "" {
		return nil, nil
	}
	creds := objectstore.Credentials{
		AccessKeyID:     strings.TrimSpace(os.Getenv("LOCKSTEP_MIRROR_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("LOCKSTEP_MIRROR_SECRET_ACCESS_KEY")),
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("mirror.endpoint is set but LOCKSTEP_MIRROR_ACCESS_KEY_ID/LOCKSTEP_MIRROR_SECRET_ACCESS_KEY are not")
	}
	client, err := objectstore.New(cfg.Mirror.Endpoint, cfg.Mirror.Bucket, cfg.Mirror.Region, creds)
	if err != nil {
		return nil, err
	}
	dataDir := filepath.Dir(filepath.Clean(cfg.Recorder.Dir))
	m := objectstore.NewMirror(client, dataDir, objectstore.MirrorOptions{
		Prefix:  cfg.Mirror.Prefix,
		Workers: cfg.Mirror.Workers,
		Logger:  logger,
	})

	// Segments are never reopened, so anything already on disk is complete.
	n, err := m.Sweep(cfg.Recorder.Dir, func(name string) bool { return strings.HasPrefix(name, "trajectory-") })
	if err != nil {
		m.Close()
		return nil, err
	}
	if n > 0 {
		logger.Printf("mirror: queued %d existing segments", n)
	}
	return m, nil
}
