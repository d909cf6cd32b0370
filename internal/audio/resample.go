// Package audio provides PCM sample-rate conversion for voice provider
// normalization. The OpenAI-style provider speaks 24kHz; the Gemini-style
// provider takes 16kHz input.
package audio

import (
	"encoding/binary"
	"math"
)

// Resample converts 16-bit signed little-endian PCM from inRate to outRate
// using linear interpolation. A trailing odd byte is truncated; zero-length
// input yields zero-length output.
func Resample(input []byte, inRate, outRate int) []byte {
	byteLen := len(input) &^ 1
	if byteLen <= 0 || inRate <= 0 || outRate <= 0 {
		return []byte{}
	}

	sampleCount := byteLen / 2
	samples := make([]int16, sampleCount)
	for i := 0; i < sampleCount; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(input[i*2:]))
	}

	ratio := float64(inRate) / float64(outRate)
	outLength := int(float64(sampleCount) / ratio)
	out := make([]byte, outLength*2)

	for i := 0; i < outLength; i++ {
		srcIdx := float64(i) * ratio
		idx0 := int(srcIdx)
		idx1 := idx0 + 1
		if idx1 > sampleCount-1 {
			idx1 = sampleCount - 1
		}
		frac := srcIdx - float64(idx0)
		v0 := float64(samples[idx0])
		v1 := float64(samples[idx1])
		v := math.Round(v0 + frac*(v1-v0))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Resample24kTo16k converts 24kHz 16-bit PCM to 16kHz.
func Resample24kTo16k(input []byte) []byte {
	return Resample(input, 24000, 16000)
}
