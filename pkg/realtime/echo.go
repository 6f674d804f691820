package realtime

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	// echoWindow is how much played audio is kept as reference.
	echoWindow = 2 * time.Second
	// echoHold is how long after playback captured audio may still be echo.
	echoHold = 1200 * time.Millisecond
	// envelopeDecimation is the number of samples summed per envelope point.
	envelopeDecimation = 8
)

// EchoDetector recognises captured frames that are the speaker's own output
// picked up by the microphone. Frames are compared against recently played
// audio by normalised cross-correlation, with an amplitude-envelope fallback
// for sibilants whose phase the room scrambles.
type EchoDetector struct {
	mu         sync.Mutex
	reference  []float32
	maxSamples int
	threshold  float64
	lastPlayed time.Time
	now        func() time.Time
}

// NewEchoDetector creates a detector. threshold is the correlation score in
// (0, 1] above which a frame counts as echo.
func NewEchoDetector(sampleRate int, threshold float64) *EchoDetector {
	return &EchoDetector{
		maxSamples: int(echoWindow.Seconds() * float64(sampleRate)),
		threshold:  threshold,
		now:        time.Now,
	}
}

// Reference records samples about to be rendered.
func (d *EchoDetector) Reference(samples []float32) {
	if len(samples) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reference = append(d.reference, samples...)
	if over := len(d.reference) - d.maxSamples; over > 0 {
		d.reference = append(d.reference[:0], d.reference[over:]...)
	}
	d.lastPlayed = d.now()
}

// IsEcho reports whether frame correlates with recently played audio.
func (d *EchoDetector) IsEcho(frame []float32) bool {
	if len(frame) == 0 {
		return false
	}

	d.mu.Lock()
	if len(d.reference) == 0 || d.now().Sub(d.lastPlayed) > echoHold {
		d.mu.Unlock()
		return false
	}
	ref := make([]float32, len(d.reference))
	copy(ref, d.reference)
	threshold := d.threshold
	d.mu.Unlock()

	if maxCorrelation(frame, ref) > threshold {
		return true
	}
	// Envelope correlation runs slightly higher, hence the margin.
	return maxEnvelopeCorrelation(frame, ref, envelopeDecimation) > threshold+0.05
}

// maxCorrelation slides in across ref and returns the best normalised
// correlation, clamped to [0, 1].
func maxCorrelation(in, ref []float32) float64 {
	n := len(in)
	if n > len(ref) {
		n = len(ref)
	}
	if n == 0 {
		return 0
	}
	in = in[:n]
	inEnergy := energy(in)
	if inEnergy == 0 {
		return 0
	}

	stride := n / 4
	if stride < 8 {
		stride = 8
	}

	best := 0.0
	for pos := 0; pos+n <= len(ref); pos += stride {
		seg := ref[pos : pos+n]
		segEnergy := energy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := range in {
			dot += float64(in[i]) * float64(seg[i])
		}
		corr := dot / math.Sqrt(inEnergy*segEnergy)
		if corr > best {
			best = corr
			if best >= 0.999 {
				break
			}
		}
	}
	if best > 1 {
		best = 1
	}
	return best
}

// maxEnvelopeCorrelation compares mean-removed amplitude envelopes.
func maxEnvelopeCorrelation(in, ref []float32, decimation int) float64 {
	inEnv := envelope(in, decimation)
	refEnv := envelope(ref, decimation)

	n := len(inEnv)
	if n > len(refEnv) {
		n = len(refEnv)
	}
	if n == 0 {
		return 0
	}
	inEnv = inEnv[:n]

	inMean := mean(inEnv)
	inVar := 0.0
	for i := range inEnv {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := n / 4
	if stride < 2 {
		stride = 2
	}

	best := 0.0
	for pos := 0; pos+n <= len(refEnv); pos += stride {
		seg := refEnv[pos : pos+n]
		refMean := mean(seg)
		dot, refVar := 0.0, 0.0
		for i := range seg {
			r := seg[i] - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			if corr := dot / math.Sqrt(inVar*refVar); corr > best {
				best = corr
			}
		}
	}
	return best
}

func envelope(samples []float32, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		sum := 0.0
		for _, s := range samples[i*decimation : (i+1)*decimation] {
			sum += math.Abs(float64(s))
		}
		env[i] = sum
	}
	return env
}

func energy(samples []float32) float64 {
	e := 0.0
	for _, s := range samples {
		e += float64(s) * float64(s)
	}
	return e
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// echoSink feeds everything it plays into an EchoDetector.
type echoSink struct {
	AudioSink
	echo *EchoDetector
}

func (s echoSink) Play(ctx context.Context, samples []float32) error {
	s.echo.Reference(samples)
	return s.AudioSink.Play(ctx, samples)
}
