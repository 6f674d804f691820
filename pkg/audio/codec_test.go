package audio

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestEncodePCM16_Boundaries(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"positive full scale", 1, 32767},
		{"negative full scale", -1, -32768},
		{"clamped above", 1.5, 32767},
		{"clamped below", -3, -32768},
		{"half", 0.5, 16384},
		{"smallest positive rounds up", 1e-6, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := EncodePCM16([]float32{tt.in})
			if len(pcm) != 2 {
				t.Fatalf("expected 2 bytes, got %d", len(pcm))
			}
			got := int16(uint16(pcm[0]) | uint16(pcm[1])<<8)
			if got != tt.want {
				t.Errorf("encode(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestPCM16RoundTripWithinOneStep(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]float32, 10000)
	for i := range samples {
		samples[i] = float32(rng.Float64()*2 - 1)
	}
	samples = append(samples, -1, 1, 0, 0.99999, -0.99999)

	decoded := DecodePCM16(EncodePCM16(samples))
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		diff := math.Abs(float64(samples[i]) - float64(decoded[i]))
		if diff > QuantizationStep {
			t.Fatalf("sample %d: |%v - %v| = %g exceeds one step", i, samples[i], decoded[i], diff)
		}
	}
}

func TestDecodePCM16_Scale(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want float32
	}{
		{"positive full scale", []byte{0xff, 0x7f}, 32767.0 / 32768.0},
		{"half", []byte{0x00, 0x40}, 0.5},
		{"negative full scale", []byte{0x00, 0x80}, -1},
		{"one step", []byte{0x01, 0x00}, QuantizationStep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodePCM16(tt.in)
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("decode(%x) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodePCM16_IgnoresTrailingByte(t *testing.T) {
	got := DecodePCM16([]byte{0x00, 0x80, 0x01})
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if got[0] != -1 {
		t.Errorf("expected -1, got %v", got[0])
	}
}

func TestTransportRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, n := range []int{0, 1, 2, 3, 255, 8192} {
		b := make([]byte, n)
		rng.Read(b)

		got, err := FromTransport(ToTransport(b))
		if err != nil {
			t.Fatalf("len %d: unexpected error: %v", n, err)
		}
		if !bytes.Equal(got, b) {
			t.Errorf("len %d: transport round trip not byte-exact", n)
		}
	}
}

func TestFromTransport_Invalid(t *testing.T) {
	if _, err := FromTransport("not base64!!"); err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestChunkDuration(t *testing.T) {
	c := make(Chunk, 24000*2)
	if c.Samples() != 24000 {
		t.Errorf("expected 24000 samples, got %d", c.Samples())
	}
	if d := c.Duration(24000); d != time.Second {
		t.Errorf("expected 1s, got %v", d)
	}
	if d := c.Duration(0); d != 0 {
		t.Errorf("expected 0 for invalid rate, got %v", d)
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("expected 0 for empty input")
	}
	got := RMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %f", got)
	}
}
