package wav

import (
	"bytes"
	"io"
	"testing"

	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/livescribe/pkg/audio"
)

func TestEncoder_DecodesBack(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768, 42}
	f := audio.Format{SampleRate: 16000, Channels: 1}

	data, err := Encoder{}.Encode(audio.PCM(samples), f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("output does not start with RIFF: %q", data[:4])
	}

	dec := gowav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("decoder rejected encoded chunk")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if int(dec.SampleRate) != f.SampleRate || int(dec.NumChans) != f.Channels {
		t.Errorf("format = %d Hz / %d ch, want %d / %d", dec.SampleRate, dec.NumChans, f.SampleRate, f.Channels)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], s)
		}
	}
}

func TestEncoder_Stereo(t *testing.T) {
	f := audio.Format{SampleRate: 48000, Channels: 2}
	data, err := Encoder{}.Encode(audio.PCM([]int16{1, 2, 3, 4}), f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec := gowav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if dec.NumChans != 2 || dec.SampleRate != 48000 {
		t.Errorf("format = %d Hz / %d ch, want 48000 / 2", dec.SampleRate, dec.NumChans)
	}
}

func TestEncoder_InvalidFormat(t *testing.T) {
	if _, err := (Encoder{}).Encode([]byte{0, 0}, audio.Format{}); err == nil {
		t.Fatal("expected error for zero format")
	}
}

func TestMemFile_SeekAndOverwrite(t *testing.T) {
	m := &memFile{}
	if _, err := m.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Write([]byte("J")); err != nil {
		t.Fatal(err)
	}
	if pos, _ := m.Seek(0, io.SeekEnd); pos != 11 {
		t.Errorf("end = %d, want 11", pos)
	}
	if got := string(m.buf); got != "Jello world" {
		t.Errorf("buf = %q", got)
	}
	if _, err := m.Seek(-1, io.SeekStart); err == nil {
		t.Error("expected error for negative offset")
	}
}
