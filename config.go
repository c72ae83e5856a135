// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

package tell

import "time"

// defaultEndpoint is the production collector address.
const defaultEndpoint = "collect.tell.rs:50000"

const (
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 * time.Second
	defaultMaxRetries     = 3
	defaultCloseTimeout   = 5 * time.Second
	defaultNetworkTimeout = 30 * time.Second
	defaultService        = "app"
)

// Options configures a Client. APIKey is the only required field; every
// other field defaults as documented below when left zero-valued.
//
// There is deliberately no builder and no named presets: callers construct
// an Options literal directly.
type Options struct {
	// APIKey is a 32-character hex string, decoded to 16 bytes. Required.
	APIKey string

	// Service tags every event and log record. Defaults to "app".
	Service string

	// Endpoint is the collector's host:port. Defaults to
	// "collect.tell.rs:50000".
	Endpoint string

	// BatchSize is the number of records per batch before a forced
	// flush. Defaults to 100.
	BatchSize int

	// FlushInterval is the maximum idle time before a forced flush.
	// Defaults to 10s.
	FlushInterval time.Duration

	// MaxRetries is the number of attempts after the initial send
	// failure. Defaults to 3 when nil. A pointer to 0 disables retries
	// explicitly; a plain zero-valued uint32 field could not distinguish
	// "unset" from "disabled".
	MaxRetries *uint32

	// CloseTimeout bounds how long Flush and Close wait for their
	// completion handle. Defaults to 5s.
	CloseTimeout time.Duration

	// NetworkTimeout bounds each connect and send attempt. Defaults to
	// 30s.
	NetworkTimeout time.Duration

	// OnError, if set, is invoked for every record rejected by validation
	// or after Close, and for every batch that cannot be delivered.
	// Records dropped from a full ingest queue are discarded without a
	// callback. Invoked from the calling goroutine for validation
	// failures, and from the worker or a retry goroutine for network
	// failures; callers must not assume a particular goroutine.
	OnError func(*Error)
}

func (o Options) withDefaults() Options {
	if o.Service == "" {
		o.Service = defaultService
	}
	if o.Endpoint == "" {
		o.Endpoint = defaultEndpoint
	}
	if o.BatchSize == 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushInterval == 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.CloseTimeout == 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
	if o.NetworkTimeout == 0 {
		o.NetworkTimeout = defaultNetworkTimeout
	}
	if o.MaxRetries == nil {
		retries := uint32(defaultMaxRetries)
		o.MaxRetries = &retries
	}
	if o.OnError == nil {
		o.OnError = func(*Error) {}
	}
	return o
}
