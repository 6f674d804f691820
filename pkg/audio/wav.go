package audio

import (
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// WriteWav writes a RIFF/WAVE header followed by the mono PCM16 payload.
func WriteWav(w io.Writer, pcm []byte, sampleRate int) error {
	header := make([]byte, wavHeaderSize)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+len(pcm)))
	copy(header[8:], "WAVE")

	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)                   // fmt chunk size
	binary.LittleEndian.PutUint16(header[20:], 1)                    // PCM
	binary.LittleEndian.PutUint16(header[22:], 1)                    // mono
	binary.LittleEndian.PutUint32(header[24:], uint32(sampleRate))   // sample rate
	binary.LittleEndian.PutUint32(header[28:], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(header[32:], 2)                    // block align
	binary.LittleEndian.PutUint16(header[34:], 16)                   // bits per sample

	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}
