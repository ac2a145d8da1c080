package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestMuLaw_RoundTripEveryCode(t *testing.T) {
	for b := 0; b < 256; b++ {
		if b == 0x7F {
			// 0x7F is negative zero; it re-encodes as 0xFF.
			continue
		}
		in := []byte{byte(b)}
		got := EncodeMuLaw(DecodeMuLaw(in))
		if !bytes.Equal(got, in) {
			t.Fatalf("round trip 0x%02x = 0x%02x", b, got[0])
		}
	}
}

func TestDecodeMuLaw_KnownValues(t *testing.T) {
	pcm := DecodeMuLaw([]byte{0xFF, 0x00, 0x80})
	if len(pcm) != 6 {
		t.Fatalf("len=%d, want 6", len(pcm))
	}
	samples := []int16{
		int16(binary.LittleEndian.Uint16(pcm[0:])),
		int16(binary.LittleEndian.Uint16(pcm[2:])),
		int16(binary.LittleEndian.Uint16(pcm[4:])),
	}
	if samples[0] != 0 {
		t.Fatalf("0xFF decoded to %d, want 0", samples[0])
	}
	if samples[1] != -32124 {
		t.Fatalf("0x00 decoded to %d, want -32124", samples[1])
	}
	if samples[2] != 32124 {
		t.Fatalf("0x80 decoded to %d, want 32124", samples[2])
	}
}

func TestEncodeMuLaw_ClipsAndIgnoresOddByte(t *testing.T) {
	pcm := make([]byte, 5)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(32767))
	minVal := int16(-32768)
	binary.LittleEndian.PutUint16(pcm[2:], uint16(minVal))
	got := EncodeMuLaw(pcm)
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2", len(got))
	}
	if got[0] != 0x80 || got[1] != 0x00 {
		t.Fatalf("clipped=% x, want 80 00", got)
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Fatalf("RMS(nil) != 0")
	}
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(1000))
	v := int16(-1000)
	binary.LittleEndian.PutUint16(pcm[2:], uint16(v))
	if got := RMS(pcm); got < 999.9 || got > 1000.1 {
		t.Fatalf("RMS=%v, want 1000", got)
	}
}
