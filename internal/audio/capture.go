package audio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	SampleRate = 16000

	// FrameDuration is the mic frame length; 30 ms at 16 kHz is 480 samples.
	FrameDuration = 30 * time.Millisecond
	FrameSize     = SampleRate * 30 / 1000
)

// Init and Terminate bracket all capture activity in the process.
func Init() error { return portaudio.Initialize() }

func Terminate() error { return portaudio.Terminate() }

// FrameSource is a pull-based stream of fixed-size PCM blocks from one
// audio device. Read blocks until a full block is available; a device
// error is distinct from silence and terminates the source.
type FrameSource interface {
	Read(ctx context.Context) ([]float32, error)
	Close() error
}

// MicSource captures 30 ms frames from the default input device.
type MicSource struct {
	stream *portaudio.Stream
	buf    []float32
}

func OpenMic() (*MicSource, error) {
	buf := make([]float32, FrameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open mic stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start mic stream: %w", err)
	}
	return &MicSource{stream: stream, buf: buf}, nil
}

func (m *MicSource) Read(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.stream.Read(); err != nil {
		return nil, fmt.Errorf("read mic frame: %w", err)
	}
	out := make([]float32, len(m.buf))
	copy(out, m.buf)
	return out, nil
}

func (m *MicSource) Close() error {
	m.stream.Stop()
	return m.stream.Close()
}

// LoopbackSource captures fixed-duration chunks from the system output
// monitor, falling back to the default input device when no monitor
// source is exposed.
type LoopbackSource struct {
	stream *portaudio.Stream
	buf    []float32
	chunk  int
	device string
}

func OpenLoopback(chunkDur time.Duration) (*LoopbackSource, error) {
	if chunkDur <= 0 {
		chunkDur = 5 * time.Second
	}

	dev, err := findLoopbackDevice()
	if err != nil {
		return nil, err
	}

	buf := make([]float32, FrameSize)
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = SampleRate
	params.FramesPerBuffer = len(buf)

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open loopback stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start loopback stream: %w", err)
	}

	return &LoopbackSource{
		stream: stream,
		buf:    buf,
		chunk:  int(SampleRate * chunkDur.Seconds()),
		device: dev.Name,
	}, nil
}

// Device reports the name of the device the source reads from.
func (l *LoopbackSource) Device() string { return l.device }

// Read accumulates frames until one whole chunk is filled.
func (l *LoopbackSource) Read(ctx context.Context) ([]float32, error) {
	out := make([]float32, 0, l.chunk)
	for len(out) < l.chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.stream.Read(); err != nil {
			return nil, fmt.Errorf("read loopback frame: %w", err)
		}
		out = append(out, l.buf...)
	}
	return out[:l.chunk], nil
}

func (l *LoopbackSource) Close() error {
	l.stream.Stop()
	return l.stream.Close()
}

func findLoopbackDevice() (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	for _, d := range devs {
		if d.MaxInputChannels == 0 {
			continue
		}
		name := strings.ToLower(d.Name)
		if strings.Contains(name, "monitor") ||
			strings.Contains(name, "loopback") ||
			strings.Contains(name, "stereo mix") {
			return d, nil
		}
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("no loopback device and no default input: %w", err)
	}
	return dev, nil
}
