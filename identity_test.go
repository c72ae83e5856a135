// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

package tell

import (
	"bytes"
	"testing"
)

func TestSuperPropertiesSnapshotSortedKeyOrder(t *testing.T) {
	sp := newSuperProperties()
	sp.Set("zeta", []byte(`"z"`))
	sp.Set("alpha", []byte(`"a"`))
	sp.Set("mu", []byte("42"))

	got := sp.Snapshot()
	alphaIdx := bytes.Index(got, []byte("alpha"))
	muIdx := bytes.Index(got, []byte("mu"))
	zetaIdx := bytes.Index(got, []byte("zeta"))

	if !(alphaIdx < muIdx && muIdx < zetaIdx) {
		t.Fatalf("expected sorted key order, got %q", got)
	}
}

func TestSuperPropertiesUnsetRemovesKey(t *testing.T) {
	sp := newSuperProperties()
	sp.Set("plan", []byte(`"free"`))
	sp.Unset("plan")

	if got := sp.Snapshot(); got != nil {
		t.Fatalf("expected nil snapshot after removing only key, got %q", got)
	}
}

func TestSuperPropertiesEmptySnapshotIsNil(t *testing.T) {
	sp := newSuperProperties()
	if got := sp.Snapshot(); got != nil {
		t.Fatalf("expected nil snapshot for empty map, got %q", got)
	}
}

func TestRegisterPropsRoundTrip(t *testing.T) {
	props := NewProps()
	props.AddString("plan", "free")
	props.AddInt("seats", 5)
	props.AddBool("trial", true)

	sp := newSuperProperties()
	registerProps(sp, props.Raw())

	got := sp.Snapshot()
	if !bytes.Contains(got, []byte(`"plan":"free"`)) {
		t.Fatalf("missing plan field in %q", got)
	}
	if !bytes.Contains(got, []byte(`"seats":5`)) {
		t.Fatalf("missing seats field in %q", got)
	}
	if !bytes.Contains(got, []byte(`"trial":true`)) {
		t.Fatalf("missing trial field in %q", got)
	}
}

func TestRegisterPropsLastWriteWinsOnUpsert(t *testing.T) {
	sp := newSuperProperties()

	first := NewProps()
	first.AddString("plan", "free")
	registerProps(sp, first.Raw())

	second := NewProps()
	second.AddString("plan", "pro")
	registerProps(sp, second.Raw())

	got := sp.Snapshot()
	if bytes.Contains(got, []byte("free")) {
		t.Fatalf("expected plan to be overwritten, got %q", got)
	}
	if !bytes.Contains(got, []byte(`"plan":"pro"`)) {
		t.Fatalf("expected updated plan value in %q", got)
	}
}

func TestRegisterPropsHandlesEscapedKeysAndCommasInValues(t *testing.T) {
	props := NewProps()
	props.AddString(`a"b`, "x,y")
	props.AddString("nested", `{"inner":1}`)

	sp := newSuperProperties()
	registerProps(sp, props.Raw())

	got := sp.Snapshot()
	if !bytes.Contains(got, []byte(`"a\"b":"x,y"`)) {
		t.Fatalf("expected literal comma preserved inside a quoted value, got %q", got)
	}
}

func TestDeviceIDHasVersion4Variant1Bits(t *testing.T) {
	id := newDeviceID()
	if id[6]>>4 != 4 {
		t.Fatalf("version nibble = %x, want 4", id[6]>>4)
	}
	if id[8]>>6 != 0b10 {
		t.Fatalf("variant bits = %b, want 10", id[8]>>6)
	}
}

func TestSessionResetChangesID(t *testing.T) {
	s := newSession()
	before := s.Snapshot()
	s.Reset()
	after := s.Snapshot()
	if before == after {
		t.Fatal("expected Reset to rotate session id")
	}
}
