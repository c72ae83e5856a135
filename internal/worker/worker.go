// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the background worker: the ingest channel,
// the two homogeneous batch staging areas, the flush timer, and the
// bounded retry pool. It owns the single stream transport and is the only
// component that touches the network.
package worker

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tellrs/telemetry-go/clock"
	"github.com/tellrs/telemetry-go/internal/transport"
	"github.com/tellrs/telemetry-go/internal/wire"
)

// maxQueueSize bounds the ingest channel; beyond it the oldest pending
// message is dropped to make room.
const maxQueueSize = 10000

// maxRetryWorkers bounds concurrent retry goroutines.
const maxRetryWorkers = 8

// QueuedEvent is a fully-frozen event record ready for encoding.
type QueuedEvent struct {
	EventType wire.EventType
	Timestamp uint64
	DeviceID  [16]byte
	SessionID [16]byte
	EventName string // empty means absent
	Payload   []byte
}

// QueuedLog is a fully-frozen log record ready for encoding.
type QueuedLog struct {
	Level     wire.LogLevel
	Timestamp uint64
	SessionID [16]byte
	Source    string
	Service   string
	Payload   []byte
}

// Completion is a one-shot signal a producer can wait on. Multiple
// concurrent waiters may each call Wait independently.
type Completion struct {
	done chan struct{}
}

func newCompletion() *Completion { return &Completion{done: make(chan struct{})} }

func (c *Completion) complete() { close(c.done) }

// Wait blocks until the completion fires or timeout elapses. Returns true
// if the completion fired within timeout.
func (c *Completion) Wait(timeout time.Duration) bool {
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

type message interface{ isMessage() }

type eventMsg struct{ event QueuedEvent }
type logMsg struct{ log QueuedLog }
type flushMsg struct{ completion *Completion }
type closeMsg struct{ completion *Completion }

func (eventMsg) isMessage() {}
func (logMsg) isMessage()   {}
func (flushMsg) isMessage() {}
func (closeMsg) isMessage() {}

// Config configures a Worker. All fields are required except Clock,
// Logger and OnError, which default to clock.Real(), slog.Default() and
// a no-op.
type Config struct {
	Endpoint       string
	NetworkTimeout time.Duration
	BatchSize      int
	FlushInterval  time.Duration
	MaxRetries     uint32
	APIKey         [16]byte
	Service        string

	// OnError is invoked on the worker's own goroutine (or a retry
	// goroutine) with a human-readable message whenever a batch cannot
	// be delivered. New replaces a nil OnError with a no-op.
	OnError func(message string)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Worker owns the ingest channel, batch staging, flush timer, and retry
// pool described by the component design. Exactly one Worker exists per
// client; construct with New and let it run until SendClose's completion
// signals shutdown.
type Worker struct {
	cfg       Config
	transport *transport.TCP
	clk       clock.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	queue []message

	notify chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	eventStaging []QueuedEvent
	logStaging   []QueuedLog
	dataBuf      []byte
	batchBuf     []byte

	batchIDCounter uint64

	retrySem chan struct{}
	retryWG  sync.WaitGroup
}

// New constructs a Worker and starts its background goroutine. The
// transport is created (but not connected — connection is lazy) here so
// a malformed endpoint surfaces synchronously as a Configuration-shaped
// error to the caller.
func New(cfg Config) (*Worker, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnError == nil {
		cfg.OnError = func(string) {}
	}

	tr, err := transport.New(cfg.Endpoint, cfg.NetworkTimeout)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:          cfg,
		transport:    tr,
		clk:          cfg.Clock,
		logger:       cfg.Logger,
		notify:       make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
		eventStaging: make([]QueuedEvent, 0, cfg.BatchSize),
		logStaging:   make([]QueuedLog, 0, cfg.BatchSize),
		dataBuf:      make([]byte, 0, 64*1024),
		batchBuf:     make([]byte, 0, 64*1024),
		retrySem:     make(chan struct{}, maxRetryWorkers),
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()

	return w, nil
}

// SendEvent enqueues an event record. Non-blocking except for a brief
// internal mutex hold.
func (w *Worker) SendEvent(e QueuedEvent) { w.enqueue(eventMsg{event: e}) }

// SendLog enqueues a log record.
func (w *Worker) SendLog(l QueuedLog) { w.enqueue(logMsg{log: l}) }

// SendFlush enqueues a flush signal and returns a Completion that fires
// once the current round's flush finishes.
func (w *Worker) SendFlush() *Completion {
	c := newCompletion()
	w.enqueue(flushMsg{completion: c})
	return c
}

// SendClose enqueues a close signal and returns a Completion that fires
// once the close-triggered flush finishes. The worker goroutine keeps
// running in the background afterward to join outstanding retry workers
// and close the transport; call Join to wait for full termination.
func (w *Worker) SendClose() *Completion {
	c := newCompletion()
	w.enqueue(closeMsg{completion: c})
	return c
}

// Join blocks until the worker goroutine has fully terminated: the
// transport is closed and every retry worker has been reaped. Only
// returns after a close signal has been processed.
func (w *Worker) Join() { w.wg.Wait() }

func (w *Worker) enqueue(m message) {
	w.mu.Lock()
	wasEmpty := len(w.queue) == 0
	if len(w.queue) >= maxQueueSize {
		copy(w.queue, w.queue[1:])
		w.queue = w.queue[:len(w.queue)-1]
	}
	w.queue = append(w.queue, m)
	w.mu.Unlock()

	if wasEmpty {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

func (w *Worker) run() {
	nextFlush := w.clk.Now().Add(w.cfg.FlushInterval)

	for {
		wait := nextFlush.Sub(w.clk.Now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-w.notify:
		case <-w.clk.After(wait):
		}

		w.mu.Lock()
		local := w.queue
		w.queue = nil
		w.mu.Unlock()

		var completions []*Completion
		shouldFlush := false
		shouldClose := false

		for _, m := range local {
			switch v := m.(type) {
			case eventMsg:
				w.eventStaging = append(w.eventStaging, v.event)
				if len(w.eventStaging) >= w.cfg.BatchSize {
					w.flushEvents()
				}
			case logMsg:
				w.logStaging = append(w.logStaging, v.log)
				if len(w.logStaging) >= w.cfg.BatchSize {
					w.flushLogs()
				}
			case flushMsg:
				shouldFlush = true
				if v.completion != nil {
					completions = append(completions, v.completion)
				}
			case closeMsg:
				shouldClose = true
				if v.completion != nil {
					completions = append(completions, v.completion)
				}
			}
		}

		now := w.clk.Now()
		if !now.Before(nextFlush) {
			shouldFlush = true
			nextFlush = now.Add(w.cfg.FlushInterval)
		}

		if shouldFlush || shouldClose {
			w.flushEvents()
			w.flushLogs()
			for _, c := range completions {
				c.complete()
			}
		}

		if shouldClose {
			w.logger.Info("tell: worker closing", "endpoint", w.cfg.Endpoint)
			w.transport.Close()
			w.retryWG.Wait()
			close(w.doneCh)
			return
		}
	}
}

func (w *Worker) flushEvents() {
	if len(w.eventStaging) == 0 {
		return
	}
	events := w.eventStaging
	w.eventStaging = make([]QueuedEvent, 0, w.cfg.BatchSize)

	service := w.cfg.Service
	if service == "" {
		service = "app"
	}

	params := make([]wire.EventParams, len(events))
	for i, e := range events {
		p := wire.EventParams{
			EventType: e.EventType,
			Timestamp: e.Timestamp,
			Service:   &service,
			DeviceID:  e.DeviceID[:],
			SessionID: e.SessionID[:],
		}
		if e.EventName != "" {
			name := e.EventName
			p.EventName = &name
		}
		if len(e.Payload) > 0 {
			p.Payload = e.Payload
		}
		params[i] = p
	}

	w.dataBuf = w.dataBuf[:0]
	dataStart := wire.EncodeEventDataInto(&w.dataBuf, params)

	w.batchBuf = w.batchBuf[:0]
	wire.EncodeBatchInto(&w.batchBuf, wire.BatchParams{
		APIKey:     w.cfg.APIKey[:],
		SchemaType: wire.SchemaEvent,
		Version:    wire.DefaultVersion,
		BatchID:    atomic.AddUint64(&w.batchIDCounter, 1),
		Data:       w.dataBuf[dataStart:],
	})

	w.sendOrRetry(w.batchBuf)
}

func (w *Worker) flushLogs() {
	if len(w.logStaging) == 0 {
		return
	}
	logs := w.logStaging
	w.logStaging = make([]QueuedLog, 0, w.cfg.BatchSize)

	params := make([]wire.LogEntryParams, len(logs))
	for i, l := range logs {
		p := wire.LogEntryParams{
			EventType: wire.LogEventLog,
			SessionID: l.SessionID[:],
			Level:     l.Level,
			Timestamp: l.Timestamp,
		}
		if l.Source != "" {
			src := l.Source
			p.Source = &src
		}
		if l.Service != "" {
			svc := l.Service
			p.Service = &svc
		}
		if len(l.Payload) > 0 {
			p.Payload = l.Payload
		}
		params[i] = p
	}

	w.dataBuf = w.dataBuf[:0]
	dataStart := wire.EncodeLogDataInto(&w.dataBuf, params)

	w.batchBuf = w.batchBuf[:0]
	wire.EncodeBatchInto(&w.batchBuf, wire.BatchParams{
		APIKey:     w.cfg.APIKey[:],
		SchemaType: wire.SchemaLog,
		Version:    wire.DefaultVersion,
		BatchID:    atomic.AddUint64(&w.batchIDCounter, 1),
		Data:       w.dataBuf[dataStart:],
	})

	w.sendOrRetry(w.batchBuf)
}

// sendOrRetry attempts one immediate send; on failure it either spawns a
// bounded retry worker or reports the failure directly, per whether
// retries are configured and whether the retry pool has room.
func (w *Worker) sendOrRetry(data []byte) {
	if w.transport.SendFrame(data) {
		return
	}

	if w.cfg.MaxRetries == 0 {
		w.cfg.OnError("send failed, no retries configured")
		return
	}

	owned := append([]byte(nil), data...)
	w.retryWG.Add(1)
	select {
	case w.retrySem <- struct{}{}:
		go w.retrySend(owned)
	default:
		w.retryWG.Done()
		w.cfg.OnError("send failed, retry pool full")
	}
}

// retrySend owns an independent transport so the main loop keeps serving
// the fast path while retries are outstanding.
func (w *Worker) retrySend(data []byte) {
	defer w.retryWG.Done()
	defer func() { <-w.retrySem }()

	retryTransport, err := transport.New(w.cfg.Endpoint, w.cfg.NetworkTimeout)
	if err != nil {
		w.cfg.OnError(fmt.Sprintf("retry transport init failed: %v", err))
		return
	}
	defer retryTransport.Close()

	for attempt := uint32(1); attempt <= w.cfg.MaxRetries; attempt++ {
		delay := backoffDelay(attempt)
		w.logger.Warn("tell: retrying send", "attempt", attempt, "delay_ms", delay.Milliseconds())
		w.clk.Sleep(delay)

		if retryTransport.SendFrame(data) {
			return
		}
	}

	w.cfg.OnError(fmt.Sprintf("send failed after %d retries", w.cfg.MaxRetries))
}

// backoffDelay computes delay = min(1000ms * 1.5^(attempt-1) + U(0,
// 0.2*base), 30000ms).
func backoffDelay(attempt uint32) time.Duration {
	base := 1000.0 * math.Pow(1.5, float64(attempt-1))
	jitter := base * 0.2 * rand.Float64()
	delayMs := math.Min(base+jitter, 30000.0)
	return time.Duration(delayMs) * time.Millisecond
}
