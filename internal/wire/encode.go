// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "encoding/binary"

// --- low-level helpers ---

func writeU16(buf *[]byte, v uint16) {
	*buf = append(*buf, byte(v), byte(v>>8))
}

func writeU32(buf *[]byte, v uint32) {
	*buf = append(*buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func writeI32(buf *[]byte, v int32) { writeU32(buf, uint32(v)) }

func writeU64(buf *[]byte, v uint64) {
	for i := 0; i < 8; i++ {
		*buf = append(*buf, byte(v>>(i*8)))
	}
}

func align4(buf *[]byte) {
	for len(*buf)%4 != 0 {
		*buf = append(*buf, 0)
	}
}

// writeByteVector writes [u32 length][data] and returns the start
// position. A length beyond uint32 range is truncated to zero (the field
// is kept, per the layout's documented edge-case policy).
func writeByteVector(buf *[]byte, data []byte) int {
	start := len(*buf)
	n := len(data)
	if uint64(n) > 0xFFFFFFFF {
		n = 0
	}
	writeU32(buf, uint32(n))
	if n > 0 {
		*buf = append(*buf, data[:n]...)
	}
	return start
}

// writeString writes [u32 length][data][0x00] and returns the start
// position.
func writeString(buf *[]byte, s string) int {
	start := len(*buf)
	n := len(s)
	if uint64(n) > 0xFFFFFFFF {
		n = 0
	}
	writeU32(buf, uint32(n))
	if n > 0 {
		*buf = append(*buf, s[:n]...)
	}
	*buf = append(*buf, 0)
	return start
}

// patchOffset writes target-offsetPos as a relative little-endian u32 at
// offsetPos.
func patchOffset(buf []byte, offsetPos, target int) {
	binary.LittleEndian.PutUint32(buf[offsetPos:], uint32(target-offsetPos))
}

// patchU32 writes an absolute little-endian u32 value at pos.
func patchU32(buf []byte, pos int, value uint32) {
	binary.LittleEndian.PutUint32(buf[pos:], value)
}

// --- event table ---

// EventParams holds the fields of one event table. Pointer-shaped fields
// (DeviceID, SessionID, EventName, Payload) are nil when absent; a
// present-but-empty Service still emits the zero-length string.
type EventParams struct {
	EventType EventType
	Timestamp uint64
	Service   *string
	DeviceID  []byte // 16 bytes, or nil
	SessionID []byte // 16 bytes, or nil
	EventName *string
	Payload   []byte
}

// EncodeEventInto appends a standalone, self-rooted event table (with its
// own 4-byte root offset) to buf.
//
// Layout: vtable (18 bytes + 2 pad) giving field offsets event_type@28,
// timestamp@20, service@32, device_id@4, session_id@8, event_name@12,
// payload@16; table (36 bytes) holding those fields; then the
// variable-length content blocks each aligned to 4 bytes.
func EncodeEventInto(buf *[]byte, p EventParams) {
	hasDeviceID := p.DeviceID != nil
	hasSessionID := p.SessionID != nil
	hasService := p.Service != nil
	hasEventName := p.EventName != nil
	hasPayload := len(p.Payload) > 0

	rootPos := len(*buf)
	*buf = append(*buf, 0, 0, 0, 0) // root offset placeholder

	vtableStart := len(*buf)
	writeU16(buf, 18) // vtable size
	writeU16(buf, 36) // table size
	writeU16(buf, 28) // event_type
	writeU16(buf, 20) // timestamp
	if hasService {
		writeU16(buf, 32)
	} else {
		writeU16(buf, 0)
	}
	if hasDeviceID {
		writeU16(buf, 4)
	} else {
		writeU16(buf, 0)
	}
	if hasSessionID {
		writeU16(buf, 8)
	} else {
		writeU16(buf, 0)
	}
	if hasEventName {
		writeU16(buf, 12)
	} else {
		writeU16(buf, 0)
	}
	if hasPayload {
		writeU16(buf, 16)
	} else {
		writeU16(buf, 0)
	}
	*buf = append(*buf, 0, 0) // vtable alignment pad

	tableStart := len(*buf)
	writeI32(buf, int32(tableStart-vtableStart)) // soffset

	deviceIDOffPos := len(*buf)
	writeU32(buf, 0)
	sessionIDOffPos := len(*buf)
	writeU32(buf, 0)
	eventNameOffPos := len(*buf)
	writeU32(buf, 0)
	payloadOffPos := len(*buf)
	writeU32(buf, 0)

	writeU64(buf, p.Timestamp)
	*buf = append(*buf, byte(p.EventType))
	*buf = append(*buf, 0, 0, 0) // padding

	serviceOffPos := len(*buf)
	writeU32(buf, 0)

	align4(buf)

	var deviceIDStart, sessionIDStart, serviceStart, eventNameStart, payloadStart int
	if hasDeviceID {
		deviceIDStart = writeByteVector(buf, p.DeviceID)
		align4(buf)
	}
	if hasSessionID {
		sessionIDStart = writeByteVector(buf, p.SessionID)
		align4(buf)
	}
	if hasService {
		serviceStart = writeString(buf, *p.Service)
		align4(buf)
	}
	if hasEventName {
		eventNameStart = writeString(buf, *p.EventName)
		align4(buf)
	}
	if hasPayload {
		payloadStart = writeByteVector(buf, p.Payload)
	}

	patchU32(*buf, rootPos, uint32(tableStart-rootPos))

	if hasDeviceID {
		patchOffset(*buf, deviceIDOffPos, deviceIDStart)
	}
	if hasSessionID {
		patchOffset(*buf, sessionIDOffPos, sessionIDStart)
	}
	if hasService {
		patchOffset(*buf, serviceOffPos, serviceStart)
	}
	if hasEventName {
		patchOffset(*buf, eventNameOffPos, eventNameStart)
	}
	if hasPayload {
		patchOffset(*buf, payloadOffPos, payloadStart)
	}
}

// EncodeEventDataInto appends the data container wrapping events (a
// count-prefixed vector of event-table offsets) to buf and returns its
// start position.
func EncodeEventDataInto(buf *[]byte, events []EventParams) int {
	dataStart := len(*buf)
	count := len(events)

	rootPos := len(*buf)
	*buf = append(*buf, 0, 0, 0, 0)

	vtableStart := len(*buf)
	writeU16(buf, 6)
	writeU16(buf, 8)
	writeU16(buf, 4)
	*buf = append(*buf, 0, 0)

	tableStart := len(*buf)
	writeI32(buf, int32(tableStart-vtableStart))

	eventsOffPos := len(*buf)
	writeU32(buf, 0)

	align4(buf)

	eventsVecStart := len(*buf)
	writeU32(buf, uint32(count))

	offsetsStart := len(*buf)
	for i := 0; i < count; i++ {
		writeU32(buf, 0)
	}

	align4(buf)

	tablePositions := make([]int, count)
	for i, params := range events {
		align4(buf)
		eventStart := len(*buf)
		EncodeEventInto(buf, params)
		rootOffset := binary.LittleEndian.Uint32((*buf)[eventStart:])
		tablePositions[i] = eventStart + int(rootOffset)
	}

	for i := 0; i < count; i++ {
		patchOffset(*buf, offsetsStart+i*4, tablePositions[i])
	}

	patchOffset(*buf, eventsOffPos, eventsVecStart)
	patchU32(*buf, rootPos, uint32(tableStart-dataStart))

	return dataStart
}

// --- log entry table ---

// LogEntryParams holds the fields of one log table.
type LogEntryParams struct {
	EventType LogEventType
	SessionID []byte // 16 bytes, or nil
	Level     LogLevel
	Timestamp uint64
	Source    *string
	Service   *string
	Payload   []byte
}

// EncodeLogEntryInto appends a standalone, self-rooted log table to buf.
//
// Layout: vtable (18 bytes + 2 pad) giving event_type@28, session_id@4,
// level@29, timestamp@20, source@8, service@12, payload@16; table (32
// bytes); then variable-length content blocks.
func EncodeLogEntryInto(buf *[]byte, p LogEntryParams) {
	hasSessionID := p.SessionID != nil
	hasSource := p.Source != nil
	hasService := p.Service != nil
	hasPayload := len(p.Payload) > 0

	rootPos := len(*buf)
	*buf = append(*buf, 0, 0, 0, 0)

	vtableStart := len(*buf)
	writeU16(buf, 18)
	writeU16(buf, 32)
	writeU16(buf, 28) // event_type
	if hasSessionID {
		writeU16(buf, 4)
	} else {
		writeU16(buf, 0)
	}
	writeU16(buf, 29) // level
	writeU16(buf, 20) // timestamp
	if hasSource {
		writeU16(buf, 8)
	} else {
		writeU16(buf, 0)
	}
	if hasService {
		writeU16(buf, 12)
	} else {
		writeU16(buf, 0)
	}
	if hasPayload {
		writeU16(buf, 16)
	} else {
		writeU16(buf, 0)
	}
	*buf = append(*buf, 0, 0)

	tableStart := len(*buf)
	writeI32(buf, int32(tableStart-vtableStart))

	sessionIDOffPos := len(*buf)
	writeU32(buf, 0)
	sourceOffPos := len(*buf)
	writeU32(buf, 0)
	serviceOffPos := len(*buf)
	writeU32(buf, 0)
	payloadOffPos := len(*buf)
	writeU32(buf, 0)

	writeU64(buf, p.Timestamp)
	*buf = append(*buf, byte(p.EventType), byte(p.Level))
	*buf = append(*buf, 0, 0) // padding

	align4(buf)

	var sessionIDStart, sourceStart, serviceStart, payloadStart int
	if hasSessionID {
		sessionIDStart = writeByteVector(buf, p.SessionID)
		align4(buf)
	}
	if hasSource {
		sourceStart = writeString(buf, *p.Source)
		align4(buf)
	}
	if hasService {
		serviceStart = writeString(buf, *p.Service)
		align4(buf)
	}
	if hasPayload {
		payloadStart = writeByteVector(buf, p.Payload)
	}

	patchU32(*buf, rootPos, uint32(tableStart-rootPos))

	if hasSessionID {
		patchOffset(*buf, sessionIDOffPos, sessionIDStart)
	}
	if hasSource {
		patchOffset(*buf, sourceOffPos, sourceStart)
	}
	if hasService {
		patchOffset(*buf, serviceOffPos, serviceStart)
	}
	if hasPayload {
		patchOffset(*buf, payloadOffPos, payloadStart)
	}
}

// EncodeLogDataInto appends the data container wrapping log entries to
// buf and returns its start position. Structurally identical to
// EncodeEventDataInto.
func EncodeLogDataInto(buf *[]byte, logs []LogEntryParams) int {
	dataStart := len(*buf)
	count := len(logs)

	rootPos := len(*buf)
	*buf = append(*buf, 0, 0, 0, 0)

	vtableStart := len(*buf)
	writeU16(buf, 6)
	writeU16(buf, 8)
	writeU16(buf, 4)
	*buf = append(*buf, 0, 0)

	tableStart := len(*buf)
	writeI32(buf, int32(tableStart-vtableStart))

	logsOffPos := len(*buf)
	writeU32(buf, 0)

	align4(buf)

	logsVecStart := len(*buf)
	writeU32(buf, uint32(count))

	offsetsStart := len(*buf)
	for i := 0; i < count; i++ {
		writeU32(buf, 0)
	}

	align4(buf)

	tablePositions := make([]int, count)
	for i, params := range logs {
		align4(buf)
		entryStart := len(*buf)
		EncodeLogEntryInto(buf, params)
		rootOffset := binary.LittleEndian.Uint32((*buf)[entryStart:])
		tablePositions[i] = entryStart + int(rootOffset)
	}

	for i := 0; i < count; i++ {
		patchOffset(*buf, offsetsStart+i*4, tablePositions[i])
	}

	patchOffset(*buf, logsOffPos, logsVecStart)
	patchU32(*buf, rootPos, uint32(tableStart-dataStart))

	return dataStart
}

// --- batch envelope ---

// BatchParams holds the fields of the outermost batch envelope.
type BatchParams struct {
	APIKey     []byte // 16 bytes
	SchemaType SchemaType
	Version    uint8 // DefaultVersion used when 0
	BatchID    uint64
	Data       []byte // opaque bytes of the data container
}

// EncodeBatchInto appends the batch envelope to buf. Unlike the event and
// log tables, this is always the outermost call (base == len(*buf) before
// appending), so the root offset patch below is written as table_start -
// base, which reduces to an absolute value only because base is the
// buffer's length at the start of this call.
//
// Layout: vtable (16 bytes) giving api_key@4, schema_type@24, version@25,
// batch_id@16 (0 when BatchID == 0), data@8, reserved source_ip (never
// emitted); table (32 bytes); then api_key and data byte vectors.
func EncodeBatchInto(buf *[]byte, p BatchParams) {
	hasBatchID := p.BatchID != 0
	version := p.Version
	if version == 0 {
		version = DefaultVersion
	}

	base := len(*buf)

	*buf = append(*buf, 0, 0, 0, 0) // root offset placeholder

	vtableStart := len(*buf)
	writeU16(buf, 16) // vtable size
	writeU16(buf, 32) // table size
	writeU16(buf, 4)  // api_key
	writeU16(buf, 24) // schema_type
	writeU16(buf, 25) // version
	if hasBatchID {
		writeU16(buf, 16)
	} else {
		writeU16(buf, 0)
	}
	writeU16(buf, 8) // data
	writeU16(buf, 0) // source_ip, unused

	tableStart := len(*buf)
	writeI32(buf, int32(tableStart-vtableStart))

	apiKeyOffPos := len(*buf)
	writeU32(buf, 0)

	dataOffPos := len(*buf)
	writeU32(buf, 0)

	writeU32(buf, 0) // reserved source_ip

	writeU64(buf, p.BatchID)
	*buf = append(*buf, byte(p.SchemaType), version)
	*buf = append(*buf, 0, 0) // padding

	align4(buf)

	apiKeyStart := writeByteVector(buf, p.APIKey)
	align4(buf)

	dataStart := writeByteVector(buf, p.Data)

	patchU32(*buf, base, uint32(tableStart-base))
	patchOffset(*buf, apiKeyOffPos, apiKeyStart)
	patchOffset(*buf, dataOffPos, dataStart)
}
