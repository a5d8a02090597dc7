package memory

import "time"

// Collection names. stream_context holds overheard system audio transcripts;
// long_term_history holds durable facts and browsing records.
const (
	CollectionStream   = "stream_context"
	CollectionLongTerm = "long_term_history"
)

// Well-known record sources. "system" routes to stream_context; any other
// source routes to long_term_history.
const (
	SourceSystem   = "system"
	SourceBrowser  = "browser"
	SourceUserFact = "user_fact"
)

// Record is one stored text with its embedding. Records are immutable
// after insert.
type Record struct {
	ID        string
	Text      string
	Source    string
	Timestamp time.Time
	Metadata  map[string]any
	Embedding []float32
}
