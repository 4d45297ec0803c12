// Package audio defines the host capabilities livescribe clients depend on:
// microphone capture, device enumeration, audio playback, and level analysis.
//
// The capture session and the speech queue only ever see these interfaces, so
// they run unchanged against the PortAudio implementations in audio/portaudio
// or against the fakes in audio/mock.
//
// This package lives under pkg/ because third-party hosts are expected to
// implement [Source], [DeviceEnumerator] and [Player].
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Source.RequestPermission] when the host
// refuses microphone access.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Source is a microphone.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// RequestPermission asks the host for microphone access. It may block
	// while the user decides. A refusal is reported as an error wrapping
	// [ErrPermissionDenied].
	RequestPermission(ctx context.Context) error

	// Open starts capturing in the given format. The stream runs until
	// [Stream.Close] is called or the device fails.
	Open(ctx context.Context, format Format) (Stream, error)
}

// Stream is an open capture stream.
type Stream interface {
	// Frames delivers captured audio in order. It is closed when the stream
	// ends, either by Close or by a device failure reported through Err.
	Frames() <-chan Frame

	// Err returns the failure that ended the stream, or nil.
	Err() error

	// Close stops capture and releases the device. Safe to call more than
	// once.
	Close() error
}

// Device describes one host audio device.
type Device struct {
	// ID is the stable identifier accepted by implementations that let
	// callers choose a device.
	ID string

	Name string

	// InputChannels and OutputChannels are the maximum channel counts; zero
	// means the device cannot capture or play respectively.
	InputChannels  int
	OutputChannels int

	DefaultSampleRate float64

	// DefaultInput and DefaultOutput mark the host's default devices.
	DefaultInput  bool
	DefaultOutput bool
}

// DeviceEnumerator lists host audio devices.
type DeviceEnumerator interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Player plays PCM audio on an output device.
//
// Implementations must be safe for concurrent use, but callers should
// serialise utterances themselves; concurrent Play calls may interleave.
type Player interface {
	// Play blocks until frame has been handed to the device or ctx is done.
	Play(ctx context.Context, frame Frame) error

	// Close releases the output device.
	Close() error
}
