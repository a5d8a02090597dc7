package audio

import (
	"math"
	"time"
)

// Source tags carried on every segment through the pipeline.
const (
	SourceUser   = "user"
	SourceSystem = "system"
)

// Segment is a contiguous span of speech-classified audio, mono float32
// at SampleRate, bounded by silence and a minimum-duration gate.
type Segment struct {
	Samples  []float32
	Source   string
	Captured time.Time
}

// Seconds reports the segment duration.
func (s *Segment) Seconds() float64 {
	return float64(len(s.Samples)) / SampleRate
}

// FrameClassifier decides whether one fixed-size frame contains speech.
type FrameClassifier interface {
	IsSpeech(frame []float32) bool
}

// RMSClassifier classifies frames by root-mean-square amplitude.
// Aggressiveness 0-3 raises the threshold: more aggressive means fewer
// false positives and more clipped speech.
type RMSClassifier struct {
	threshold float64
}

func NewRMSClassifier(aggressiveness int) *RMSClassifier {
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 3 {
		aggressiveness = 3
	}
	return &RMSClassifier{threshold: 0.010 + 0.005*float64(aggressiveness)}
}

func (c *RMSClassifier) IsSpeech(frame []float32) bool {
	return frameRMS(frame) > c.threshold
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}

// Segmenter turns a continuous frame stream into discrete speech segments.
// It holds one of two states: idle (no buffered frames) or triggered (an
// open speech run). A silence frame closes the run; runs shorter than
// minFrames are dropped as noise. No frame survives a close.
type Segmenter struct {
	cls       FrameClassifier
	source    string
	minFrames int

	triggered bool
	buf       []float32
	frames    int
}

func NewSegmenter(cls FrameClassifier, source string, minFrames int) *Segmenter {
	if minFrames < 1 {
		minFrames = 1
	}
	return &Segmenter{cls: cls, source: source, minFrames: minFrames}
}

// Push feeds one frame through the state machine. It returns a finished
// segment when a speech run of at least minFrames frames is closed by
// silence, and nil otherwise.
func (s *Segmenter) Push(frame []float32) *Segment {
	if s.cls.IsSpeech(frame) {
		s.triggered = true
		s.buf = append(s.buf, frame...)
		s.frames++
		return nil
	}

	if !s.triggered {
		return nil
	}

	var out *Segment
	if s.frames >= s.minFrames {
		samples := make([]float32, len(s.buf))
		copy(samples, s.buf)
		out = &Segment{Samples: samples, Source: s.source, Captured: time.Now()}
	}

	s.buf = s.buf[:0]
	s.frames = 0
	s.triggered = false
	return out
}

// Triggered reports whether a speech run is currently open.
func (s *Segmenter) Triggered() bool { return s.triggered }

// EnergyGate classifies whole fixed-duration chunks by mean squared
// amplitude. Coarser than the frame segmenter: no hysteresis, no minimum
// duration beyond the chunk size itself.
type EnergyGate struct {
	Threshold float64
}

// Pass reports whether the chunk carries enough energy to count as speech.
func (g EnergyGate) Pass(chunk []float32) bool {
	if len(chunk) == 0 {
		return false
	}
	var s float64
	for _, x := range chunk {
		s += float64(x * x)
	}
	return s/float64(len(chunk)) > g.Threshold
}
