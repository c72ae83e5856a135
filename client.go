// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

// Package tell is a client-side telemetry library: a non-blocking ingest
// facade batches analytics events and structured log records and ships
// them asynchronously over a persistent length-prefixed binary stream to a
// remote collector.
package tell

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tellrs/telemetry-go/internal/validate"
	"github.com/tellrs/telemetry-go/internal/wire"
	"github.com/tellrs/telemetry-go/internal/worker"
)

// Client is the public ingest surface. All ingest methods are
// non-blocking, never panic, and report failures through Options.OnError
// rather than a return value. A Client is safe for concurrent use by any
// number of goroutines.
type Client struct {
	identity clientIdentity
	session  *session
	props    *superProperties

	closeTimeout time.Duration
	onError      func(*Error)
	logger       *slog.Logger

	closed *atomic.Bool
	w      *worker.Worker
}

// New constructs a Client. Returns a Configuration error if APIKey is
// malformed, Service exceeds 256 bytes, or the endpoint is not a valid
// host:port. Reachability of the endpoint is NOT checked here —
// connection is lazy.
func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()

	apiKey, err := validate.DecodeAPIKey(opts.APIKey)
	if err != nil {
		return nil, configurationErr(fmt.Sprintf("api_key: %v", err))
	}
	if !validate.ServiceName(opts.Service) {
		return nil, configurationErr("service: exceeds maximum length")
	}

	logger := slog.Default().With("component", "tell")

	closed := &atomic.Bool{}
	onError := opts.OnError

	w, err := worker.New(worker.Config{
		Endpoint:       opts.Endpoint,
		NetworkTimeout: opts.NetworkTimeout,
		BatchSize:      opts.BatchSize,
		FlushInterval:  opts.FlushInterval,
		MaxRetries:     *opts.MaxRetries,
		APIKey:         apiKey,
		Service:        opts.Service,
		Logger:         logger,
		OnError: func(message string) {
			onError(networkErr(message))
		},
	})
	if err != nil {
		return nil, configurationErr(fmt.Sprintf("endpoint: %v", err))
	}

	return &Client{
		identity:     clientIdentity{deviceID: newDeviceID(), apiKey: apiKey, service: opts.Service},
		session:      newSession(),
		props:        newSuperProperties(),
		closeTimeout: opts.CloseTimeout,
		onError:      onError,
		logger:       logger,
		closed:       closed,
		w:            w,
	}, nil
}

func (c *Client) reportError(err *Error) {
	if err.Kind == KindValidation {
		c.logger.Debug("tell: dropping invalid record", "field", err.Field, "reason", err.Reason)
	}
	c.onError(err)
}

func (c *Client) isClosed() bool {
	return c.closed.Load()
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// buildPayload writes the fixed top-level fields (in order), then the
// current super-properties snapshot, then per-call properties; per-call
// keys win over super-property keys of the same name because Set's last
// write (applied here, by appending per-call bytes after super-property
// bytes) is observed last by a textual last-key-wins collector parser.
func (c *Client) buildPayload(fixed *Props, perCall *Props) []byte {
	out := fixed
	if superRaw := c.props.Snapshot(); len(superRaw) > 0 {
		if out.count > 0 {
			out.buf = append(out.buf, ',')
		}
		out.buf = append(out.buf, superRaw...)
		out.count++
	}
	if perCall != nil && !perCall.Empty() {
		if out.count > 0 {
			out.buf = append(out.buf, ',')
		}
		out.buf = append(out.buf, perCall.Raw()...)
		out.count++
	}
	return out.ToJSONBytes()
}

func (c *Client) enqueueEvent(eventType wire.EventType, eventName string, payload []byte) {
	c.w.SendEvent(worker.QueuedEvent{
		EventType: eventType,
		Timestamp: nowMillis(),
		DeviceID:  c.identity.deviceID,
		SessionID: c.session.Snapshot(),
		EventName: eventName,
		Payload:   payload,
	})
}

// Track records a named user action. props may be nil.
func (c *Client) Track(userID, eventName string, props *Props) {
	if c.isClosed() {
		c.reportError(closedErr("track called after close"))
		return
	}
	if !validate.UserID(userID) {
		c.reportError(validationErr("user_id", "must be non-empty"))
		return
	}
	if !validate.EventName(eventName) {
		c.reportError(validationErr("event_name", "must be non-empty and at most 256 bytes"))
		return
	}

	fixed := NewProps()
	fixed.AddString("user_id", userID)
	payload := c.buildPayload(fixed, props)

	c.enqueueEvent(wire.EventTrack, eventName, payload)
}

// Identify associates traits with a user. No super-property merging
// happens for identify: traits stands alone.
func (c *Client) Identify(userID string, traits *Props) {
	if c.isClosed() {
		c.reportError(closedErr("identify called after close"))
		return
	}
	if !validate.UserID(userID) {
		c.reportError(validationErr("user_id", "must be non-empty"))
		return
	}

	out := NewProps()
	out.AddString("user_id", userID)
	if traits != nil && !traits.Empty() {
		out.buf = append(out.buf, `,"traits":{`...)
		out.buf = append(out.buf, traits.Raw()...)
		out.buf = append(out.buf, '}')
		out.count++
	}

	c.enqueueEvent(wire.EventIdentify, "", out.ToJSONBytes())
}

// Group associates a user with a group.
func (c *Client) Group(userID, groupID string, props *Props) {
	if c.isClosed() {
		c.reportError(closedErr("group called after close"))
		return
	}
	if !validate.UserID(userID) {
		c.reportError(validationErr("user_id", "must be non-empty"))
		return
	}
	if !validate.NonEmpty(groupID) {
		c.reportError(validationErr("group_id", "must be non-empty"))
		return
	}

	fixed := NewProps()
	fixed.AddString("group_id", groupID)
	fixed.AddString("user_id", userID)
	payload := c.buildPayload(fixed, props)

	c.enqueueEvent(wire.EventGroup, "", payload)
}

// Revenue records a monetary event. It is emitted as a Track record with
// event_name fixed to "Order Completed".
func (c *Client) Revenue(userID string, amount float64, currency, orderID string, props *Props) {
	if c.isClosed() {
		c.reportError(closedErr("revenue called after close"))
		return
	}
	if !validate.UserID(userID) {
		c.reportError(validationErr("user_id", "must be non-empty"))
		return
	}
	if !validate.RevenueAmount(amount) {
		c.reportError(validationErr("amount", "must be strictly positive"))
		return
	}
	if !validate.NonEmpty(currency) {
		c.reportError(validationErr("currency", "must be non-empty"))
		return
	}
	if !validate.NonEmpty(orderID) {
		c.reportError(validationErr("order_id", "must be non-empty"))
		return
	}

	fixed := NewProps()
	fixed.AddString("user_id", userID)
	fixed.AddFloat64("amount", amount)
	fixed.AddString("currency", currency)
	fixed.AddString("order_id", orderID)
	payload := c.buildPayload(fixed, props)

	c.enqueueEvent(wire.EventTrack, "Order Completed", payload)
}

// Alias links a previous anonymous identifier to userID.
func (c *Client) Alias(previousID, userID string) {
	if c.isClosed() {
		c.reportError(closedErr("alias called after close"))
		return
	}
	if !validate.NonEmpty(previousID) {
		c.reportError(validationErr("previous_id", "must be non-empty"))
		return
	}
	if !validate.UserID(userID) {
		c.reportError(validationErr("user_id", "must be non-empty"))
		return
	}

	out := NewProps()
	out.AddString("previous_id", previousID)
	out.AddString("user_id", userID)

	c.enqueueEvent(wire.EventAlias, "", out.ToJSONBytes())
}

// Log records a structured log entry at the given level. Super properties
// are NOT merged into log payloads. source may be empty.
func (c *Client) Log(level wire.LogLevel, message, source string, data *Props) {
	if c.isClosed() {
		c.reportError(closedErr("log called after close"))
		return
	}
	if !validate.LogMessage(message) {
		c.reportError(validationErr("message", "must be non-empty and at most 65536 bytes"))
		return
	}

	fixed := NewProps()
	fixed.AddString("message", message)
	if data != nil && !data.Empty() {
		fixed.buf = append(fixed.buf, ',')
		fixed.buf = append(fixed.buf, data.Raw()...)
		fixed.count++
	}

	c.w.SendLog(worker.QueuedLog{
		Level:     level,
		Timestamp: nowMillis(),
		SessionID: c.session.Snapshot(),
		Source:    source,
		Service:   c.identity.service,
		Payload:   fixed.ToJSONBytes(),
	})
}

// LogEmergency, LogAlert, LogCritical, LogError, LogWarning, LogNotice,
// LogInfo, LogDebug, and LogTrace are level-specific convenience wrappers
// around Log.
func (c *Client) LogEmergency(message, source string, data *Props) {
	c.Log(wire.LevelEmergency, message, source, data)
}

func (c *Client) LogAlert(message, source string, data *Props) {
	c.Log(wire.LevelAlert, message, source, data)
}

func (c *Client) LogCritical(message, source string, data *Props) {
	c.Log(wire.LevelCritical, message, source, data)
}

func (c *Client) LogError(message, source string, data *Props) {
	c.Log(wire.LevelError, message, source, data)
}

func (c *Client) LogWarning(message, source string, data *Props) {
	c.Log(wire.LevelWarning, message, source, data)
}

func (c *Client) LogNotice(message, source string, data *Props) {
	c.Log(wire.LevelNotice, message, source, data)
}

func (c *Client) LogInfo(message, source string, data *Props) {
	c.Log(wire.LevelInfo, message, source, data)
}

func (c *Client) LogDebug(message, source string, data *Props) {
	c.Log(wire.LevelDebug, message, source, data)
}

func (c *Client) LogTrace(message, source string, data *Props) {
	c.Log(wire.LevelTrace, message, source, data)
}

// RegisterProps upserts props into the process-wide super-properties map.
// Subsequent track/group/revenue calls observe the mutation; identify,
// alias and log payloads never include super properties.
func (c *Client) RegisterProps(props *Props) {
	if props == nil || props.Empty() {
		return
	}
	registerProps(c.props, props.Raw())
}

// Unregister removes key from the super-properties map, if present.
func (c *Client) Unregister(key string) {
	c.props.Unset(key)
}

// ResetSession rotates the session id under exclusive access.
func (c *Client) ResetSession() {
	c.session.Reset()
}

// Flush enqueues a flush signal and blocks up to CloseTimeout for the
// current round's batches to be transmitted (or attempted). Returns false
// if the completion did not fire within CloseTimeout; the worker continues
// regardless.
func (c *Client) Flush() bool {
	if c.isClosed() {
		return true
	}
	return c.w.SendFlush().Wait(c.closeTimeout)
}

// Close enqueues a close signal, waits up to CloseTimeout for the
// close-triggered flush to complete, then blocks (unbounded) for the
// worker's background goroutine to fully terminate: transport closed,
// every outstanding retry worker reaped. After Close returns, every
// subsequent ingest call reports a Closed error instead of enqueuing.
//
// Close is idempotent: calling it more than once is a no-op.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.w.SendClose().Wait(c.closeTimeout)
	c.w.Join()
}
