// Package wav packages captured PCM into self-contained WAV chunks, the
// container the relay forwards verbatim to the transcription backend.
//
// No resampling or channel conversion is performed; the chunk carries the
// capture format unchanged.
package wav

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// MIMEType is the content type of encoded chunks.
const MIMEType = "audio/wav"

// FileName is the upload name backends expect for encoded chunks.
const FileName = "audio.wav"

const bitDepth = 16

// Encoder turns 16-bit PCM into a WAV file. The zero value is ready to use
// and safe for concurrent use.
type Encoder struct{}

// Encode wraps pcm, in format f, into a complete WAV file.
func (Encoder) Encode(pcm []byte, f audio.Format) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("wav: invalid format %d Hz / %d ch", f.SampleRate, f.Channels)
	}

	samples := audio.Samples(pcm)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: f.Channels,
			SampleRate:  f.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: bitDepth,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	out := &memFile{}
	enc := gowav.NewEncoder(out, f.SampleRate, bitDepth, f.Channels, 1)
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("wav: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav: finalize header: %w", err)
	}
	return out.buf, nil
}

// MIMEType returns [MIMEType].
func (Encoder) MIMEType() string { return MIMEType }

// memFile is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch chunk sizes into the header once all samples are written.
type memFile struct {
	buf []byte
	pos int
}

var errNegativeOffset = errors.New("wav: negative seek offset")

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("wav: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errNegativeOffset
	}
	m.pos = int(next)
	return next, nil
}
