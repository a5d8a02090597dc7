package pipeline

import (
	"context"
	log "log/slog"
	"strings"
	"time"

	"omni/internal/audio"
	"omni/internal/trigger"
)

// Transcriber is the external speech-to-text engine.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

// Recorder ingests passive transcripts into memory.
type Recorder interface {
	Add(ctx context.Context, text, source string, meta map[string]any) error
}

// Answerer resolves a transcribed user utterance into a grounded answer.
type Answerer interface {
	Query(ctx context.Context, userQuery string) (string, error)
}

// Dispatcher is the single pipeline consumer: it pops one segment at a
// time, transcribes it and routes the text by source tag. Per-item
// failures are logged and the loop continues; nothing here stops the
// capture workers.
type Dispatcher struct {
	queue    *Queue
	stt      Transcriber
	store    Recorder
	answerer Answerer
	triggers *trigger.Table

	// ItemTimeout bounds the external engine and model calls per segment.
	ItemTimeout time.Duration

	// Cue, when set, runs as a user-audible signal that a spoken query
	// was picked up.
	Cue func()

	// OnTranscript and OnAnswer, when set, receive pipeline output for
	// the status stream.
	OnTranscript func(source, text string)
	OnAnswer     func(query, answer string)
}

func NewDispatcher(q *Queue, stt Transcriber, store Recorder, answerer Answerer, triggers *trigger.Table) *Dispatcher {
	return &Dispatcher{
		queue:       q,
		stt:         stt,
		store:       store,
		answerer:    answerer,
		triggers:    triggers,
		ItemTimeout: 60 * time.Second,
	}
}

// Run consumes the queue until it is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info("dispatcher started")
	defer log.Info("dispatcher stopped")

	for {
		seg, ok := d.queue.Pop()
		if !ok {
			return
		}
		d.handle(ctx, seg)
	}
}

func (d *Dispatcher) handle(ctx context.Context, seg *audio.Segment) {
	ictx, cancel := context.WithTimeout(ctx, d.ItemTimeout)
	defer cancel()

	if seg.Source == audio.SourceUser && d.Cue != nil {
		d.Cue()
	}

	text, err := d.stt.Transcribe(ictx, seg.Samples)
	if err != nil {
		log.Error("transcription failed", "source", seg.Source, "err", err)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	log.Info("transcribed", "source", seg.Source, "text", text)
	if d.OnTranscript != nil {
		d.OnTranscript(seg.Source, text)
	}

	switch seg.Source {
	case audio.SourceSystem:
		if err := d.store.Add(ictx, text, seg.Source, nil); err != nil {
			log.Error("failed to store overheard audio", "err", err)
		}

	case audio.SourceUser:
		if d.triggers != nil {
			if n := d.triggers.Check(ictx, text); n > 0 {
				log.Info("command triggers fired", "count", n)
			}
		}

		answer, err := d.answerer.Query(ictx, text)
		if err != nil {
			log.Error("query failed", "query", text, "err", err)
			return
		}
		log.Info("answer ready", "answer", answer)
		if d.OnAnswer != nil {
			d.OnAnswer(text, answer)
		}

	default:
		log.Warn("segment with unknown source dropped", "source", seg.Source)
	}
}
