package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatClassifier treats any frame whose first sample is non-zero as speech.
type flatClassifier struct{}

func (flatClassifier) IsSpeech(frame []float32) bool { return len(frame) > 0 && frame[0] != 0 }

func speechFrame() []float32  { return []float32{0.5, 0.5, 0.5, 0.5} }
func silenceFrame() []float32 { return []float32{0, 0, 0, 0} }

func TestSegmenterDropsShortRuns(t *testing.T) {
	s := NewSegmenter(flatClassifier{}, SourceUser, 10)

	for i := 0; i < 5; i++ {
		require.Nil(t, s.Push(speechFrame()))
	}
	assert.True(t, s.Triggered())

	seg := s.Push(silenceFrame())
	assert.Nil(t, seg, "5 frames with min_frames=10 must be discarded as noise")
	assert.False(t, s.Triggered(), "state must return to idle after discard")
}

func TestSegmenterEmitsFullRun(t *testing.T) {
	s := NewSegmenter(flatClassifier{}, SourceUser, 10)

	for i := 0; i < 12; i++ {
		require.Nil(t, s.Push(speechFrame()))
	}

	seg := s.Push(silenceFrame())
	require.NotNil(t, seg)
	assert.Equal(t, SourceUser, seg.Source)
	assert.Len(t, seg.Samples, 12*len(speechFrame()), "segment must hold all 12 frames' samples")
	assert.False(t, s.Triggered())
	assert.False(t, seg.Captured.IsZero())
}

func TestSegmenterNeverEmitsBelowMinFrames(t *testing.T) {
	s := NewSegmenter(flatClassifier{}, SourceSystem, 4)

	// Alternating short bursts never reach the gate.
	for i := 0; i < 20; i++ {
		assert.Nil(t, s.Push(speechFrame()))
		assert.Nil(t, s.Push(silenceFrame()))
	}
	assert.False(t, s.Triggered())
}

func TestSegmenterNoCarryAcrossRuns(t *testing.T) {
	s := NewSegmenter(flatClassifier{}, SourceUser, 2)

	// First run: discarded (1 frame).
	s.Push(speechFrame())
	require.Nil(t, s.Push(silenceFrame()))

	// Second run: exactly 2 frames, emitted alone.
	s.Push(speechFrame())
	s.Push(speechFrame())
	seg := s.Push(silenceFrame())
	require.NotNil(t, seg)
	assert.Len(t, seg.Samples, 2*len(speechFrame()), "discarded frames must not leak into the next run")
}

func TestSegmenterSilenceWhileIdle(t *testing.T) {
	s := NewSegmenter(flatClassifier{}, SourceUser, 3)
	for i := 0; i < 10; i++ {
		assert.Nil(t, s.Push(silenceFrame()))
	}
	assert.False(t, s.Triggered())
}

func TestRMSClassifier(t *testing.T) {
	tests := []struct {
		name           string
		aggressiveness int
		frame          []float32
		speech         bool
	}{
		{"loud frame passes", 3, []float32{0.5, -0.5, 0.5, -0.5}, true},
		{"silence fails", 0, []float32{0, 0, 0, 0}, false},
		{"quiet frame fails at max aggressiveness", 3, []float32{0.02, -0.02, 0.02, -0.02}, false},
		{"quiet frame passes at min aggressiveness", 0, []float32{0.02, -0.02, 0.02, -0.02}, true},
		{"empty frame fails", 0, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewRMSClassifier(tt.aggressiveness)
			assert.Equal(t, tt.speech, c.IsSpeech(tt.frame))
		})
	}
}

func TestEnergyGate(t *testing.T) {
	g := EnergyGate{Threshold: 0.001}

	loud := make([]float32, 1000)
	for i := range loud {
		loud[i] = 0.2
	}
	assert.True(t, g.Pass(loud))

	quiet := make([]float32, 1000)
	for i := range quiet {
		quiet[i] = 0.001
	}
	assert.False(t, g.Pass(quiet))

	assert.False(t, g.Pass(nil), "empty chunk is silence")
}
