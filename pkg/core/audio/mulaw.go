// Package audio converts between the telephony transport's G.711 mu-law
// encoding and 16-bit little-endian linear PCM.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// SampleRate is the telephony transport sample rate in Hz.
	SampleRate = 8000

	// FrameBytes is one 20ms transport frame of mu-law audio at 8kHz.
	FrameBytes = 160

	// MuLawSilence is the mu-law byte for a zero sample.
	MuLawSilence byte = 0xFF

	muLawBias = 0x84
	muLawClip = 32635
)

// DecodeMuLaw expands mu-law bytes into PCM16LE (two bytes per sample).
func DecodeMuLaw(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, u := range in {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(decodeSample(u)))
	}
	return out
}

// EncodeMuLaw compands PCM16LE into mu-law. A trailing odd byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = encodeSample(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

func decodeSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant)<<3 + muLawBias) << exp
	value -= muLawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

func encodeSample(s int16) byte {
	sample := int(s)
	var sign int
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > muLawClip {
		sample = muLawClip
	}
	sample += muLawBias

	exp := 7
	for mask := 0x4000; sample&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (sample >> (exp + 3)) & 0x0F
	return ^byte(sign | exp<<4 | mant)
}

// RMS returns the root-mean-square amplitude of PCM16LE audio.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
