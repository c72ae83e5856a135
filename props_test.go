// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

package tell

import "testing"

func TestPropsBasicFields(t *testing.T) {
	p := NewProps().AddString("url", "/home").AddInt("status", 200).AddBool("ok", true)
	got := string(p.ToJSONBytes())
	want := `{"url":"/home","status":200,"ok":true}`
	if got != want {
		t.Fatalf("ToJSONBytes() = %q, want %q", got, want)
	}
}

func TestPropsEmpty(t *testing.T) {
	p := NewProps()
	if !p.Empty() {
		t.Fatal("new Props should be Empty")
	}
	if got := string(p.ToJSONBytes()); got != "{}" {
		t.Fatalf("ToJSONBytes() = %q, want {}", got)
	}
}

func TestPropsNilReceiver(t *testing.T) {
	var p *Props
	if !p.Empty() {
		t.Fatal("nil Props should be Empty")
	}
	if p.Size() != 0 {
		t.Fatal("nil Props should have Size 0")
	}
	if p.Raw() != nil {
		t.Fatal("nil Props Raw() should be nil")
	}
	if got := string(p.ToJSONBytes()); got != "{}" {
		t.Fatalf("nil Props ToJSONBytes() = %q, want {}", got)
	}
}

func TestPropsEscaping(t *testing.T) {
	p := NewProps().AddString("k", "a\"b\\c\bd\fe\nf\rg\th\x01i")
	got := string(p.Raw())
	want := `"k":"a\"b\\c\bd\fe\nf\rg\thi"`
	if got != want {
		t.Fatalf("Raw() = %q, want %q", got, want)
	}
}

func TestPropsEscapeRoundTripAllBytesBelow32(t *testing.T) {
	for c := byte(0); c < 0x20; c++ {
		switch c {
		case '\b', '\f', '\n', '\r', '\t':
			continue
		}
		p := NewProps().AddString("k", string([]byte{c}))
		raw := p.Raw()
		want := "\"k\":\"\\u00" + string(hexDigits[c>>4]) + string(hexDigits[c&0xf]) + "\""
		if string(raw) != want {
			t.Fatalf("byte 0x%02x: Raw() = %q, want %q", c, raw, want)
		}
	}
}

func TestPropsRawMatchesJSONInterior(t *testing.T) {
	p := NewProps().AddString("a", "1").AddInt("b", 2)
	json := p.ToJSONBytes()
	raw := p.Raw()
	if string(json) != "{"+string(raw)+"}" {
		t.Fatalf("ToJSONBytes() = %q, want wrap of Raw() = %q", json, raw)
	}
}

func TestPropsSizeCounts(t *testing.T) {
	p := NewProps()
	if p.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", p.Size())
	}
	p.AddString("a", "x").AddString("b", "y")
	if p.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", p.Size())
	}
}

func TestPropsFloatFormatting(t *testing.T) {
	p := NewProps().AddFloat64("amount", 19.99)
	got := string(p.Raw())
	want := `"amount":19.99`
	if got != want {
		t.Fatalf("Raw() = %q, want %q", got, want)
	}
}
