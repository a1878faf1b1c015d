package audio

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Capture errors. Neither is retried automatically; both are surfaced to the
// user.
var (
	// ErrPermissionDenied means the OS refused microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrDeviceUnavailable means no usable capture device was found.
	ErrDeviceUnavailable = errors.New("no capture device available")
)

// CaptureConfig controls microphone capture.
type CaptureConfig struct {
	// NativeRate is the rate requested from the device. The encoder
	// downsamples to the wire rate, so this can stay at the device default.
	NativeRate int
	// FrameSamples is the number of native samples per emitted frame.
	// 4096 samples at 16 kHz is ~256 ms, inside the backend's accepted
	// 100-450 ms chunk window; at higher native rates the frame is scaled
	// so the encoded duration stays the same.
	FrameSamples int
}

// DefaultCaptureConfig captures at 48 kHz and emits frames that encode to
// 4096 samples at the 16 kHz wire rate.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		NativeRate:   48000,
		FrameSamples: 4096 * 3,
	}
}

// FrameFunc receives one fixed-size buffer of native-rate float samples per
// frame. The slice is reused; implementations must not retain it.
type FrameFunc func(samples []float32, nativeRate int)

// Capture owns the exclusive OS microphone handle. It is produced stopped;
// Start and Stop toggle the device without releasing the handle, and Close
// releases it. Every exit path of a session must reach Stop or Close so the
// device lock is not leaked.
type Capture struct {
	cfg     CaptureConfig
	logger  *zap.Logger
	onFrame FrameFunc

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	active atomic.Bool

	mu      sync.Mutex
	pending []float32
	frame   []float32
	closed  bool
}

// OpenCapture initializes the capture device and registers the frame
// callback. The microphone is not live until Start.
func OpenCapture(cfg CaptureConfig, onFrame FrameFunc, logger *zap.Logger) (*Capture, error) {
	if cfg.NativeRate <= 0 {
		cfg.NativeRate = DefaultCaptureConfig().NativeRate
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultCaptureConfig().FrameSamples
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	c := &Capture{
		cfg:     cfg,
		logger:  logger,
		onFrame: onFrame,
		ctx:     mctx,
		pending: make([]float32, 0, cfg.FrameSamples*2),
		frame:   make([]float32, cfg.FrameSamples),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.NativeRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if !c.active.Load() {
				return
			}
			c.ingest(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classifyCaptureErr(err)
	}
	c.device = device
	return c, nil
}

// Start makes the microphone live. Frames begin flowing to the callback.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrDeviceUnavailable
	}
	c.pending = c.pending[:0]
	c.mu.Unlock()

	if err := c.device.Start(); err != nil {
		return classifyCaptureErr(err)
	}
	c.active.Store(true)
	c.logger.Debug("capture started",
		zap.Int("native_rate", c.cfg.NativeRate),
		zap.Int("frame_samples", c.cfg.FrameSamples))
	return nil
}

// Stop halts frame production immediately. The device handle stays acquired
// so a later Start does not renegotiate with the OS.
func (c *Capture) Stop() {
	if !c.active.Swap(false) {
		return
	}
	_ = c.device.Stop()
	c.logger.Debug("capture stopped")
}

// Close stops the device and releases the OS microphone handle.
func (c *Capture) Close() {
	c.Stop()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.device.Uninit()
	_ = c.ctx.Uninit()
	c.ctx.Free()
}

// Active reports whether the microphone is currently live.
func (c *Capture) Active() bool {
	return c.active.Load()
}

// ingest accumulates device callbacks into fixed-size frames so downstream
// chunking is uniform regardless of the period size the OS delivers.
func (c *Capture) ingest(input []byte) {
	samples := bytesToFloat32(input)

	c.mu.Lock()
	c.pending = append(c.pending, samples...)
	for len(c.pending) >= c.cfg.FrameSamples {
		copy(c.frame, c.pending[:c.cfg.FrameSamples])
		c.pending = c.pending[:copy(c.pending, c.pending[c.cfg.FrameSamples:])]
		frame := c.frame
		c.mu.Unlock()

		if c.active.Load() {
			c.onFrame(frame, c.cfg.NativeRate)
		}

		c.mu.Lock()
	}
	c.mu.Unlock()
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func classifyCaptureErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
