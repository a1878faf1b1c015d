// Package audio provides microphone capture, PCM encoding, and assistant
// audio playback for a voicewire session.
package audio

// Config describes a PCM audio format.
type Config struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultWireConfig is the format the backend expects on the streaming
// channel: 16 kHz mono 16-bit little-endian PCM.
func DefaultWireConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the byte rate of the format.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * c.BitsPerSample / 8
}

// DurationMs returns the duration of byteCount bytes of audio in milliseconds.
func (c Config) DurationMs(byteCount int) int {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return byteCount * 1000 / bps
}

// BytesForDurationMs returns the number of bytes for durationMs of audio.
func (c Config) BytesForDurationMs(durationMs int) int {
	return c.BytesPerSecond() * durationMs / 1000
}
