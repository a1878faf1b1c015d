package audio

import (
	"bytes"
	"testing"
)

func TestEncodeWAV_RoundTrip(t *testing.T) {
	cfg := DefaultWireConfig()
	pcm := FloatToPCM16([]float32{0.1, -0.1, 0.5, -0.5})

	wav, err := EncodeWAV(pcm, cfg)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Errorf("WAV size = %d, want %d", len(wav), 44+len(pcm))
	}

	gotPCM, gotCfg, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Errorf("decoded PCM differs from input")
	}
	if gotCfg != cfg {
		t.Errorf("decoded config = %+v, want %+v", gotCfg, cfg)
	}
}

func TestEncodeWAV_Errors(t *testing.T) {
	if _, err := EncodeWAV(nil, DefaultWireConfig()); err == nil {
		t.Error("expected error for empty PCM data")
	}
	if _, err := EncodeWAV([]byte{0, 0}, Config{SampleRate: 0}); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("short")); err == nil {
		t.Error("expected error for truncated data")
	}
	junk := make([]byte, 64)
	copy(junk, "JUNKJUNK")
	if _, _, err := DecodeWAV(junk); err == nil {
		t.Error("expected error for non-RIFF data")
	}
}

func TestConvertPCM_MonoToStereo(t *testing.T) {
	in := Config{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	out := Config{SampleRate: 16000, Channels: 2, BitsPerSample: 16}
	pcm := FloatToPCM16([]float32{0.5, -0.5})

	got := ConvertPCM(pcm, in, out)
	if len(got) != len(pcm)*2 {
		t.Fatalf("stereo output = %d bytes, want %d", len(got), len(pcm)*2)
	}
	// Each mono sample should appear on both channels.
	for i := 0; i < len(pcm); i += 2 {
		l := got[i*2 : i*2+2]
		r := got[i*2+2 : i*2+4]
		if !bytes.Equal(l, r) {
			t.Errorf("frame %d: left %v != right %v", i/2, l, r)
		}
	}
}
