package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type MirrorOptions struct {
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Logger        *log.Logger

	// Attempts per file; zero means 4.
	MaxAttempts int
	Backoff     time.Duration
}

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	EnqueuedTotal       uint64 `json:"enqueued_total"`
	QueueSaturatedTotal uint64 `json:"queue_saturated_total"`
	DroppedTotal        uint64 `json:"dropped_total"`
	UploadSuccessTotal  uint64 `json:"upload_success_total"`
	UploadFailTotal     uint64 `json:"upload_fail_total"`
	LastSuccessUnix     int64  `json:"last_success_unix"`
	LastErrorUnix       int64  `json:"last_error_unix"`
}

// Mirror copies closed files under dataDir to the bucket, keyed by their
// path relative to dataDir. Uploads run on worker goroutines; Enqueue only
// waits briefly when the queue is full and then drops the file.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	log     *log.Logger

	maxAttempts int
	backoff     time.Duration

	jobs        chan string
	enqueueWait time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once
	closed      atomic.Bool

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(up Uploader, dataDir string, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Mirror{
		up:          up,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		log:         logger,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		jobs:        make(chan string, opts.QueueCapacity),
		enqueueWait: opts.EnqueueWait,
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.closed.Load() {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.log.Printf("mirror drop local=%s reason=queue_saturated dropped_total=%d", localPath, dropped)
	}
}

// Sweep enqueues every regular file in dir whose name passes keep. It is
// used at startup to pick up segments closed by an earlier run.
func (m *Mirror) Sweep(dir string, keep func(name string) bool) (int, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range ents {
		if e.IsDir() || (keep != nil && !keep(e.Name())) {
			continue
		}
		m.Enqueue(filepath.Join(dir, e.Name()))
		n++
	}
	return n, nil
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.uploadFailTotal.Add(1)
		m.log.Printf("mirror skip local=%s err=%v", localPath, err)
		return
	}

	if err := m.uploadWithRetry(key, localPath); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.log.Printf("mirror upload failed key=%s local=%s err=%v", key, localPath, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	m.log.Printf("mirror uploaded key=%s", key)
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		var pe *PutError
		if errors.As(err, &pe) && !pe.Retryable() {
			return err
		}
		if attempt < m.maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return lastErr
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}
