package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps raw PCM16LE data in a WAV container. The fallback upload
// path uses this so the backend's transcription service gets a complete,
// self-describing file instead of a bare stream.
func EncodeWAV(pcm []byte, cfg Config) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio data")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.BitsPerSample <= 0 {
		cfg.BitsPerSample = 16
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(cfg.Channels),
		SampleRate:    uint32(cfg.SampleRate),
		ByteRate:      uint32(cfg.BytesPerSecond()),
		BlockAlign:    uint16(cfg.Channels * cfg.BitsPerSample / 8),
		BitsPerSample: uint16(cfg.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV extracts the PCM payload and format from a WAV container.
// Only uncompressed PCM is supported; anything else is an error.
func DecodeWAV(data []byte) ([]byte, Config, error) {
	if len(data) < 44 {
		return nil, Config{}, fmt.Errorf("WAV data too short: %d bytes", len(data))
	}
	var header wavHeader
	if err := binary.Read(bytes.NewReader(data[:44]), binary.LittleEndian, &header); err != nil {
		return nil, Config{}, fmt.Errorf("read WAV header: %w", err)
	}
	if header.ChunkID != [4]byte{'R', 'I', 'F', 'F'} || header.Format != [4]byte{'W', 'A', 'V', 'E'} {
		return nil, Config{}, fmt.Errorf("not a WAV file")
	}
	if header.AudioFormat != 1 {
		return nil, Config{}, fmt.Errorf("unsupported WAV audio format %d", header.AudioFormat)
	}

	cfg := Config{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
	}
	pcm := data[44:]
	if int(header.Subchunk2Size) < len(pcm) {
		pcm = pcm[:header.Subchunk2Size]
	}
	return pcm, cfg, nil
}
