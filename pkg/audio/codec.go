package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// QuantizationStep is the size of one PCM16 step on the normalized [-1, 1] scale.
const QuantizationStep = 1.0 / 32768.0

// Chunk is a buffer of 16-bit little-endian mono PCM at the session sample rate.
type Chunk []byte

// Samples returns the number of PCM16 samples in the chunk.
func (c Chunk) Samples() int {
	return len(c) / 2
}

// Duration returns how long the chunk plays at the given sample rate.
func (c Chunk) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(sampleRate)
}

// EncodePCM16 converts normalized float samples to PCM16. Samples are clamped
// to [-1, 1]; negative values scale by 32768 and non-negative by 32767 so the
// positive boundary cannot overflow. Non-negative values round up, which keeps
// every sample within one step of its DecodePCM16 value.
func EncodePCM16(samples []float32) Chunk {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(encodeSample(s)))
	}
	return buf
}

func encodeSample(s float32) int16 {
	f := float64(s)
	if math.IsNaN(f) {
		return 0
	}
	f = math.Max(-1, math.Min(1, f))
	if f < 0 {
		return int16(math.Round(f * 32768))
	}
	return int16(math.Ceil(f * 32767))
}

// DecodePCM16 converts PCM16 back to normalized floats by dividing every
// sample by 32768. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(float64(v) / 32768)
	}
	return out
}

// ToTransport encodes binary audio for carriage inside a JSON message.
func ToTransport(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromTransport reverses ToTransport.
func FromTransport(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid transport encoding: %w", err)
	}
	return b, nil
}

// RMS returns the root-mean-square level of the samples in [0, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
