// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/tellrs/telemetry-go/clock"
	"github.com/tellrs/telemetry-go/internal/wire"
)

func startEchoListener(t *testing.T) (addr string, frames chan []byte, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	frames = make(chan []byte, 64)
	done := make(chan struct{})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				for {
					var header [4]byte
					if _, err := io.ReadFull(conn, header[:]); err != nil {
						return
					}
					n := binary.BigEndian.Uint32(header[:])
					payload := make([]byte, n)
					if _, err := io.ReadFull(conn, payload); err != nil {
						return
					}
					select {
					case frames <- payload:
					case <-done:
						return
					}
				}
			}()
		}
	}()

	return ln.Addr().String(), frames, func() {
		close(done)
		ln.Close()
	}
}

func testEvent(name string) QueuedEvent {
	return QueuedEvent{EventType: wire.EventTrack, Timestamp: 1, EventName: name}
}

func TestWorkerFlushesOnBatchSize(t *testing.T) {
	addr, frames, stop := startEchoListener(t)
	defer stop()

	w, err := New(Config{
		Endpoint:       addr,
		NetworkTimeout: time.Second,
		BatchSize:      2,
		FlushInterval:  time.Hour,
		Service:        "app",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.SendClose().Wait(time.Second)

	w.SendEvent(testEvent("A"))
	w.SendEvent(testEvent("B"))

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch flushed at batch_size")
	}
}

func TestWorkerFlushCompletionFires(t *testing.T) {
	addr, frames, stop := startEchoListener(t)
	defer stop()

	w, err := New(Config{
		Endpoint:       addr,
		NetworkTimeout: time.Second,
		BatchSize:      100,
		FlushInterval:  time.Hour,
		Service:        "app",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.SendClose().Wait(time.Second)

	w.SendEvent(testEvent("A"))
	if !w.SendFlush().Wait(2 * time.Second) {
		t.Fatal("flush completion did not fire in time")
	}

	// The frame was written before the completion fired; the listener
	// goroutine reads it asynchronously.
	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the frame written before flush completed to reach the listener")
	}
}

func TestWorkerFlushesOnTimer(t *testing.T) {
	addr, frames, stop := startEchoListener(t)
	defer stop()

	fc := clock.Fake(time.Unix(0, 0))
	w, err := New(Config{
		Endpoint:       addr,
		NetworkTimeout: time.Second,
		BatchSize:      100,
		FlushInterval:  time.Second,
		Service:        "app",
		Clock:          fc,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.SendClose().Wait(time.Second)

	w.SendEvent(testEvent("A"))
	fc.WaitForTimers(1)
	fc.Advance(time.Second)

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer-triggered flush")
	}
}

func TestWorkerCloseJoinsBackgroundGoroutine(t *testing.T) {
	addr, _, stop := startEchoListener(t)
	defer stop()

	w, err := New(Config{
		Endpoint:       addr,
		NetworkTimeout: time.Second,
		BatchSize:      100,
		FlushInterval:  time.Hour,
		Service:        "app",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !w.SendClose().Wait(2 * time.Second) {
		t.Fatal("close completion did not fire")
	}

	joined := make(chan struct{})
	go func() {
		w.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("Join did not return after close completed")
	}
}

func TestWorkerOverflowDoesNotBlockProducer(t *testing.T) {
	addr, _, stop := startEchoListener(t)
	defer stop()

	fc := clock.Fake(time.Unix(0, 0))
	w, err := New(Config{
		Endpoint:       addr,
		NetworkTimeout: time.Second,
		BatchSize:      1 << 20, // never flush on size
		FlushInterval:  time.Hour,
		Service:        "app",
		Clock:          fc,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.SendClose().Wait(time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < maxQueueSize+500; i++ {
			w.SendEvent(testEvent("overflow"))
		}
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked past the bounded queue's capacity")
	}
}

func TestWorkerReportsErrorAfterRetriesExhausted(t *testing.T) {
	// Bind a listener only to learn a free port, then close it so every
	// connection attempt fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	var mu sync.Mutex
	var errs []string
	onError := func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, msg)
	}

	w, err := New(Config{
		Endpoint:       addr,
		NetworkTimeout: 50 * time.Millisecond,
		BatchSize:      1,
		FlushInterval:  time.Hour,
		MaxRetries:     2,
		Service:        "app",
		OnError:        onError,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.SendClose().Wait(time.Second)

	w.SendEvent(testEvent("A"))

	// Two retry attempts, each sleeping a jittered backoff (~1s then
	// ~1.5s) on the real clock before reporting exhaustion.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(errs)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		t.Fatal("expected at least one error report after retries exhausted")
	}
}
