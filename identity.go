// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

package tell

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// clientIdentity is immutable for the life of one client: device_id and
// api_key are fixed at construction; service is the default event tag.
type clientIdentity struct {
	deviceID [16]byte
	apiKey   [16]byte
	service  string
}

// newDeviceID returns a random 16-byte value with the version-4/variant-1
// bits set. Non-cryptographic randomness is acceptable (see §9 of the
// design notes): a device identifier only needs to be unique, not secret.
func newDeviceID() [16]byte {
	return [16]byte(uuid.New())
}

// session holds the rotatable 16-byte session id under a reader-preferring
// lock: facade event builders take a shared snapshot, reset_session takes
// exclusive access to rotate it.
type session struct {
	mu sync.RWMutex
	id [16]byte
}

func newSession() *session {
	return &session{id: [16]byte(uuid.New())}
}

// Snapshot returns the current session id.
func (s *session) Snapshot() [16]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Reset rotates to a freshly generated session id.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = [16]byte(uuid.New())
}

// superProperties is the shared key/value map merged into track, revenue
// and group payloads (but not identify's traits, alias, nor logs). Values are kept as
// already-escaped raw bytes so a read never needs to reparse or re-escape.
// Last write per key wins; iteration order is the map's natural (sorted)
// key order, mirroring the original's std::map-backed implementation.
type superProperties struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func newSuperProperties() *superProperties {
	return &superProperties{values: make(map[string][]byte)}
}

// Set upserts one key.
func (s *superProperties) Set(key string, rawValue []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = rawValue
}

// Unset removes key, if present.
func (s *superProperties) Unset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Snapshot returns the interior bytes of a JSON-like object built from the
// current map contents in sorted key order, ready to splice into a larger
// payload via Props.Raw-style concatenation. Returns nil if the map is
// empty.
func (s *superProperties) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.values) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	props := NewProps()
	for _, k := range keys {
		props.beginField(k)
		props.buf = append(props.buf, s.values[k]...)
	}
	return props.Raw()
}

// registerProps parses the raw textual interior emitted by Props (a
// sequence of "key":value pairs) back into individual key/value entries
// and upserts each into dst. Values are kept as their raw (already
// escaped) byte run, so no reparsing of strings/numbers is needed.
//
// The parser assumes well-formed interior input: it scans quoted keys and
// stops cleanly at the first malformed byte rather than panicking, since
// register_props is always fed by this package's own Props buffer. A value
// ends at the first unquoted comma; Props never emits composite values, so
// no bracket/brace depth tracking is needed to find that boundary.
func registerProps(dst *superProperties, raw []byte) {
	i, n := 0, len(raw)
	for i < n {
		for i < n && raw[i] != '"' {
			i++
		}
		if i >= n {
			return
		}
		i++ // past opening quote
		keyStart := i
		for i < n && raw[i] != '"' {
			if raw[i] == '\\' {
				i++
			}
			i++
		}
		if i >= n {
			return
		}
		key := unescapeKey(raw[keyStart:i])
		i++ // past closing quote

		for i < n && raw[i] != ':' {
			i++
		}
		if i >= n {
			return
		}
		i++ // past colon

		valueStart := i
	scanValue:
		for i < n {
			switch raw[i] {
			case '"':
				i++
				for i < n && raw[i] != '"' {
					if raw[i] == '\\' {
						i++
					}
					i++
				}
			case ',':
				break scanValue
			}
			i++
		}
		value := raw[valueStart:i]
		if key != "" {
			dst.Set(key, append([]byte(nil), value...))
		}
		if i < n && raw[i] == ',' {
			i++
		}
	}
}

// unescapeKey reverses the minimal escaping Props.writeEscaped applies to
// keys, since register_props stores keys as plain strings for future
// Unset lookups.
func unescapeKey(raw []byte) string {
	hasEscape := false
	for _, c := range raw {
		if c == '\\' {
			hasEscape = true
			break
		}
	}
	if !hasEscape {
		return string(raw)
	}

	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			out = append(out, raw[i])
			continue
		}
		i++
		switch raw[i] {
		case '"':
			out = append(out, '"')
		case '\\':
			out = append(out, '\\')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		default:
			out = append(out, raw[i])
		}
	}
	return string(out)
}
