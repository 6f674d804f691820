package device

import (
	"context"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

// TapSource records every captured frame before passing it on.
type TapSource struct {
	source   realtime.AudioSource
	recorder *audio.Recorder
}

func NewTapSource(source realtime.AudioSource, recorder *audio.Recorder) *TapSource {
	return &TapSource{source: source, recorder: recorder}
}

func (t *TapSource) Start(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) error {
	return t.source.Start(ctx, sampleRate, frameSize, func(frame []float32) {
		t.recorder.Write(audio.EncodePCM16(frame))
		onFrame(frame)
	})
}

func (t *TapSource) Stop() error {
	return t.source.Stop()
}

// TapSink records audio handed to the output device. Flushed audio that was
// already handed over stays in the recording.
type TapSink struct {
	sink     realtime.AudioSink
	recorder *audio.Recorder
}

func NewTapSink(sink realtime.AudioSink, recorder *audio.Recorder) *TapSink {
	return &TapSink{sink: sink, recorder: recorder}
}

func (t *TapSink) Play(ctx context.Context, samples []float32) error {
	t.recorder.Write(audio.EncodePCM16(samples))
	return t.sink.Play(ctx, samples)
}

func (t *TapSink) Flush() {
	t.sink.Flush()
}
