package audio

import (
	"encoding/binary"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream. All
// livescribe audio is 16-bit signed little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// DefaultCaptureFormat is what a [Source] is opened with unless configured
// otherwise: 16 kHz mono, the native rate of most recognition engines.
var DefaultCaptureFormat = Format{SampleRate: 16000, Channels: 1}

// Frame is a single buffer of captured or synthesised audio.
type Frame struct {
	// Data is 16-bit signed little-endian PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's format.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	bps := f.Format().BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bps)
}

// Samples decodes little-endian int16 PCM. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// PCM encodes samples as little-endian int16 PCM.
func PCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
