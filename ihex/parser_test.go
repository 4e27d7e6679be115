// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ihex

import "testing"

// TestParseMinimal checks that a single DATA record followed by EOF decodes
// to the expected absolute address and payload with no extended address
// records present.
func TestParseMinimal(t *testing.T) {
	p := New()
	var got []struct {
		rec  Record
		addr uint32
	}
	p.Parse([]byte(":10000000"+
		"0102030405060708090A0B0C0D0E0F10"+
		"68\r\n"+
		":00000001FF\r\n"), func(rec Record, addr uint32) {
		got = append(got, struct {
			rec  Record
			addr uint32
		}{rec, addr})
	})

	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].rec.Type != RecordData || got[0].addr != 0 {
		t.Fatalf("record 0 = %+v addr %#x, want DATA at 0", got[0].rec, got[0].addr)
	}
	if len(got[0].rec.Data) != 16 || got[0].rec.Data[0] != 0x01 || got[0].rec.Data[15] != 0x10 {
		t.Fatalf("record 0 data = %x", got[0].rec.Data)
	}
	if got[1].rec.Type != RecordEOF {
		t.Fatalf("record 1 type = %v, want EOF", got[1].rec.Type)
	}
	if p.Stats.Lines != 2 || p.Stats.Errors != 0 || p.Stats.DataBytes != 16 {
		t.Fatalf("Stats = %+v", p.Stats)
	}
}

// TestParseExtendedLinearAddress checks that an EXT_LIN_ADDR record rebases
// every following DATA record until a new one arrives.
func TestParseExtendedLinearAddress(t *testing.T) {
	p := New()
	var addrs []uint32
	p.Parse([]byte(
		":020000040001F9\r\n"+ // ExtLinear = 0x00010000
			":0400000001020304F2\r\n"+ // DATA at 0x00010000
			":020000040002F8\r\n"+ // ExtLinear = 0x00020000
			":04100000AABBCCDDDE\r\n"+ // DATA at 0x00021000
			":00000001FF\r\n"),
		func(rec Record, addr uint32) {
			if rec.Type == RecordData {
				addrs = append(addrs, addr)
			}
		})

	if len(addrs) != 2 {
		t.Fatalf("len(addrs) = %d, want 2", len(addrs))
	}
	if addrs[0] != 0x00010000 {
		t.Fatalf("addrs[0] = %#x, want 0x00010000", addrs[0])
	}
	if addrs[1] != 0x00021000 {
		t.Fatalf("addrs[1] = %#x, want 0x00021000", addrs[1])
	}
}

// TestParseExtendedSegmentAddress exercises the EXT_SEG_ADDR base, whose
// shift differs from EXT_LIN_ADDR (<<4 rather than <<16).
func TestParseExtendedSegmentAddress(t *testing.T) {
	p := New()
	var addr uint32
	p.Parse([]byte(
		":020000021000EC\r\n"+ // ExtSegment = 0x1000<<4 = 0x00010000
			":04000000DEADBEEFC4\r\n"),
		func(rec Record, a uint32) {
			if rec.Type == RecordData {
				addr = a
			}
		})
	if addr != 0x00010000 {
		t.Fatalf("addr = %#x, want 0x00010000", addr)
	}
}

// TestParseBadChecksum checks that a corrupted checksum increments the
// error counter and the record is never delivered to the callback.
func TestParseBadChecksum(t *testing.T) {
	p := New()
	called := false
	p.Parse([]byte(":10000000"+
		"0102030405060708090A0B0C0D0E0F10"+
		"00\r\n"), func(Record, uint32) { called = true })

	if called {
		t.Fatal("callback invoked for a line with a bad checksum")
	}
	if p.Stats.Errors != 1 {
		t.Fatalf("Stats.Errors = %d, want 1", p.Stats.Errors)
	}
	if p.Stats.Lines != 1 {
		t.Fatalf("Stats.Lines = %d, want 1", p.Stats.Lines)
	}
}

// TestParseMalformedLineDoesNotAbortStream verifies a bad line is skipped
// and parsing resumes cleanly on the next line.
func TestParseMalformedLineDoesNotAbortStream(t *testing.T) {
	p := New()
	var types []RecordType
	p.Parse([]byte(
		"this is not hex at all\r\n"+
			":10000000"+"0102030405060708090A0B0C0D0E0F10"+"68\r\n"+
			":00000001FF\r\n"),
		func(rec Record, _ uint32) { types = append(types, rec.Type) })

	if len(types) != 2 || types[0] != RecordData || types[1] != RecordEOF {
		t.Fatalf("types = %v, want [DATA EOF]", types)
	}
	if p.Stats.Errors != 1 {
		t.Fatalf("Stats.Errors = %d, want 1", p.Stats.Errors)
	}
}

// TestParseOversizedLineDropped exercises the line-capacity overflow path:
// a run of bytes longer than the configured capacity with no terminator is
// dropped, the error counter increments once, and parsing resumes at the
// next terminator.
func TestParseOversizedLineDropped(t *testing.T) {
	p := New(WithLineCapacity(16))
	called := false
	overlong := make([]byte, 20)
	for i := range overlong {
		overlong[i] = 'A'
	}
	var buf []byte
	buf = append(buf, overlong...)
	buf = append(buf, '\n')
	buf = append(buf, []byte(":00000001FF\r\n")...)

	p.Parse(buf, func(Record, uint32) { called = true })

	if !called {
		t.Fatal("expected EOF record to be decoded after the dropped line")
	}
	if p.Stats.Errors != 1 {
		t.Fatalf("Stats.Errors = %d, want 1", p.Stats.Errors)
	}
}

// TestParseChunkedAcrossCalls verifies a single line split across two Parse
// calls (as a network reader would deliver it) still decodes correctly.
func TestParseChunkedAcrossCalls(t *testing.T) {
	p := New()
	var got Record
	full := ":10000000" + "0102030405060708090A0B0C0D0E0F10" + "68\r\n"
	mid := len(full) / 2
	p.Parse([]byte(full[:mid]), func(Record, uint32) { t.Fatal("callback fired before line complete") })
	p.Parse([]byte(full[mid:]), func(rec Record, _ uint32) { got = rec })

	if got.Type != RecordData || len(got.Data) != 16 {
		t.Fatalf("got = %+v", got)
	}
}

// TestReset clears extended-address state and counters.
func TestReset(t *testing.T) {
	p := New()
	p.Parse([]byte(":020000040001F9\r\n"), func(Record, uint32) {})
	if p.ExtLinear == 0 || p.Stats.Lines == 0 {
		t.Fatal("setup failed to advance parser state")
	}
	p.Reset()
	if p.ExtLinear != 0 || p.ExtSegment != 0 || p.Stats.Lines != 0 || p.Stats.Errors != 0 {
		t.Fatalf("Reset left state behind: %+v ext=%#x/%#x", p.Stats, p.ExtLinear, p.ExtSegment)
	}
}

// TestParseStopsAfterEOF ensures records following an EOF record are
// ignored until Reset is called.
func TestParseStopsAfterEOF(t *testing.T) {
	p := New()
	var count int
	p.Parse([]byte(":00000001FF\r\n:10000000"+
		"0102030405060708090A0B0C0D0E0F10"+"68\r\n"),
		func(Record, uint32) { count++ })
	if count != 1 {
		t.Fatalf("count = %d, want 1 (only the EOF record)", count)
	}
}
