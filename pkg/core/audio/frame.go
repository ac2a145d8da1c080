package audio

// Frames splits mu-law audio into fixed-size transport frames. The final
// frame is padded with silence so every frame has exactly size bytes.
func Frames(mulaw []byte, size int) [][]byte {
	if size <= 0 {
		size = FrameBytes
	}
	if len(mulaw) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(mulaw)+size-1)/size)
	for start := 0; start < len(mulaw); start += size {
		end := start + size
		if end <= len(mulaw) {
			out = append(out, mulaw[start:end:end])
			continue
		}
		last := make([]byte, size)
		n := copy(last, mulaw[start:])
		for i := n; i < size; i++ {
			last[i] = MuLawSilence
		}
		out = append(out, last)
	}
	return out
}

// EncodeFrames compands PCM16LE and splits it into transport frames.
func EncodeFrames(pcm []byte, size int) [][]byte {
	return Frames(EncodeMuLaw(pcm), size)
}
