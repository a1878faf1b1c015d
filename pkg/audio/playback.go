package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
	"go.uber.org/zap"
)

// AudioFetcher retrieves the bytes behind an audio_ready URL. Relative URLs
// are resolved against the backend base URL by the implementation.
type AudioFetcher interface {
	FetchAudio(ctx context.Context, audioURL string) (data []byte, contentType string, err error)
}

// PlayerConfig controls the speaker output format. Assistant audio in other
// formats is converted to this before playback.
type PlayerConfig struct {
	SampleRate int
	Channels   int
}

// DefaultPlayerConfig matches the MP3 payloads the backend's TTS produces.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{SampleRate: 44100, Channels: 2}
}

// Player plays assistant audio through the default output device. Playback
// completion (or failure) is reported through the done callback so the
// session can re-arm capture; the callback runs on the player's goroutine.
type Player struct {
	cfg     PlayerConfig
	fetcher AudioFetcher
	logger  *zap.Logger

	otoCtx  *oto.Context
	current *oto.Player
	cancel  context.CancelFunc
}

// NewPlayer initializes the speaker context. Only one Player may exist per
// process (an oto limitation).
func NewPlayer(cfg PlayerConfig, fetcher AudioFetcher, logger *zap.Logger) (*Player, error) {
	if cfg.SampleRate <= 0 {
		cfg = DefaultPlayerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &Player{cfg: cfg, fetcher: fetcher, logger: logger, otoCtx: otoCtx}, nil
}

// Play fetches audioURL and plays it asynchronously. done is always called
// exactly once, with a nil error on normal completion. A second Play while
// audio is still sounding flushes the previous playback first.
func (p *Player) Play(ctx context.Context, audioURL string, done func(error)) {
	p.Flush()

	playCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go func() {
		defer cancel()
		err := p.play(playCtx, audioURL)
		done(err)
	}()
}

func (p *Player) play(ctx context.Context, audioURL string) error {
	data, contentType, err := p.fetcher.FetchAudio(ctx, audioURL)
	if err != nil {
		return fmt.Errorf("fetch assistant audio: %w", err)
	}

	pcm, err := p.decode(audioURL, contentType, data)
	if err != nil {
		return err
	}

	player := p.otoCtx.NewPlayer(bytes.NewReader(pcm))
	p.current = player
	player.Play()
	p.logger.Debug("playback started",
		zap.String("url", audioURL),
		zap.Int("pcm_bytes", len(pcm)))

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = player.Close()
			return ctx.Err()
		case <-ticker.C:
			if !player.IsPlaying() {
				err := player.Close()
				p.current = nil
				return err
			}
		}
	}
}

// decode converts the payload into the player's PCM format. MP3 and WAV are
// the only formats the backend serves; anything else is a playback error.
func (p *Player) decode(audioURL, contentType string, data []byte) ([]byte, error) {
	out := Config{SampleRate: p.cfg.SampleRate, Channels: p.cfg.Channels, BitsPerSample: 16}

	switch {
	case strings.Contains(contentType, "mpeg") || strings.HasSuffix(strings.ToLower(audioURL), ".mp3"):
		dec, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode mp3: %w", err)
		}
		pcm, err := io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("decode mp3: %w", err)
		}
		// go-mp3 always yields 16-bit stereo at the source rate.
		in := Config{SampleRate: dec.SampleRate(), Channels: 2, BitsPerSample: 16}
		return ConvertPCM(pcm, in, out), nil
	case strings.Contains(contentType, "wav") || strings.HasSuffix(strings.ToLower(audioURL), ".wav"):
		pcm, in, err := DecodeWAV(data)
		if err != nil {
			return nil, err
		}
		return ConvertPCM(pcm, in, out), nil
	default:
		return nil, fmt.Errorf("unsupported assistant audio format %q", contentType)
	}
}

// Flush stops any in-progress playback and discards buffered audio.
func (p *Player) Flush() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Close releases the speaker.
func (p *Player) Close() {
	p.Flush()
	if p.otoCtx != nil {
		_ = p.otoCtx.Suspend()
	}
}

// ConvertPCM converts 16-bit PCM between sample rates and channel counts.
// Resampling is nearest-neighbor: playback does not need the fidelity the
// outbound encoder does, and the payloads are short.
func ConvertPCM(pcm []byte, in, out Config) []byte {
	if in.SampleRate == out.SampleRate && in.Channels == out.Channels {
		return pcm
	}
	inFrames := len(pcm) / 2 / in.Channels
	outFrames := inFrames * out.SampleRate / in.SampleRate
	result := make([]byte, outFrames*out.Channels*2)

	for i := 0; i < outFrames; i++ {
		src := i * in.SampleRate / out.SampleRate
		if src >= inFrames {
			src = inFrames - 1
		}
		// Mix down to mono first, then fan out to the output channels.
		var sum int
		for ch := 0; ch < in.Channels; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[(src*in.Channels+ch)*2:])))
		}
		sample := int16(sum / in.Channels)
		for ch := 0; ch < out.Channels; ch++ {
			binary.LittleEndian.PutUint16(result[(i*out.Channels+ch)*2:], uint16(sample))
		}
	}
	return result
}
