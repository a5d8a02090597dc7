package pipeline

import (
	"context"
	log "log/slog"
	"time"

	"omni/internal/audio"
)

// RunMicWorker reads frames from the active source, runs them through the
// segmenter and queues closed segments. Returns on cancellation or on a
// device failure; either way only this source stops.
func RunMicWorker(ctx context.Context, src audio.FrameSource, seg *audio.Segmenter, q *Queue) {
	log.Info("mic worker started")
	defer log.Info("mic worker stopped")

	for {
		frame, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("mic read failed", "err", err)
			return
		}

		if s := seg.Push(frame); s != nil {
			q.Push(s)
			log.Debug("segment queued", "source", s.Source, "seconds", s.Seconds())
		}
	}
}

// RunLoopbackWorker reads whole chunks from the passive source and queues
// any chunk that clears the energy gate.
func RunLoopbackWorker(ctx context.Context, src audio.FrameSource, gate audio.EnergyGate, q *Queue) {
	log.Info("loopback worker started")
	defer log.Info("loopback worker stopped")

	for {
		chunk, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("loopback read failed", "err", err)
			return
		}

		if !gate.Pass(chunk) {
			continue
		}

		s := &audio.Segment{Samples: chunk, Source: audio.SourceSystem, Captured: time.Now()}
		q.Push(s)
		log.Debug("segment queued", "source", s.Source, "seconds", s.Seconds())
	}
}
