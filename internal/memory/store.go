package memory

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Embedder maps text to a vector. The same model must serve inserts and
// queries within a collection or similarity scores are meaningless.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a chat completion from a system instruction and a
// user message.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Sentinel errors so Query callers can tell which external call failed.
var (
	ErrEmbed    = errors.New("embedding failed")
	ErrGenerate = errors.New("generation failed")
)

const (
	streamResults   = 5
	longTermResults = 3
)

// Options configures a Store.
type Options struct {
	// Window restricts stream_context retrieval to records younger than
	// this. Zero disables the filter and the collection behaves as an
	// unbounded short-horizon log.
	Window time.Duration

	// Path, when non-empty, is the sqlite file records persist to and
	// reload from at startup.
	Path string
}

// Store is the two-tier memory: a short-horizon stream_context collection
// fed by overheard audio and a durable long_term_history collection fed by
// facts and browser records.
type Store struct {
	embed Embedder
	gen   Generator

	stream   *collection
	longTerm *collection

	window time.Duration
	db     *recordDB
}

func NewStore(embed Embedder, gen Generator, opts Options) (*Store, error) {
	s := &Store{
		embed:    embed,
		gen:      gen,
		stream:   newCollection(CollectionStream),
		longTerm: newCollection(CollectionLongTerm),
		window:   opts.Window,
	}

	if opts.Path != "" {
		db, err := openRecordDB(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("open memory db: %w", err)
		}
		s.db = db

		n, err := db.loadInto(s.route)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("load memory db: %w", err)
		}
		log.Info("memory loaded", "records", n, "path", opts.Path)
	}

	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) route(source string) *collection {
	if source == SourceSystem {
		return s.stream
	}
	return s.longTerm
}

// Counts reports the record count per collection, for the status surfaces.
func (s *Store) Counts() (stream, longTerm int) {
	return s.stream.len(), s.longTerm.len()
}

// Add embeds text and inserts it into the collection its source routes to.
// Empty or whitespace-only text is a no-op. The embedding call happens
// before any lock is taken.
func (s *Store) Add(ctx context.Context, text, source string, meta map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	vec, err := s.embed.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbed, err)
	}

	now := time.Now()
	md := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		md[k] = v
	}
	md["timestamp"] = float64(now.UnixNano()) / 1e9
	md["source"] = source

	rec := Record{
		ID:        uuid.NewString(),
		Text:      text,
		Source:    source,
		Timestamp: now,
		Metadata:  md,
		Embedding: vec,
	}

	col := s.route(source)
	col.insert(rec)

	if s.db != nil {
		if err := s.db.save(col.name, rec); err != nil {
			log.Warn("memory persist failed", "id", rec.ID, "err", err)
		}
	}

	log.Debug("memory added", "collection", col.name, "id", rec.ID, "source", source)
	return nil
}

// Query retrieves the nearest records from both collections and asks the
// generator for an answer grounded in them. Failures of the embedding or
// generation call surface as ErrEmbed / ErrGenerate; they are never folded
// into the answer text.
func (s *Store) Query(ctx context.Context, userQuery string) (string, error) {
	vec, err := s.embed.Embed(ctx, userQuery)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmbed, err)
	}

	var cutoff int64
	if s.window > 0 {
		cutoff = time.Now().Add(-s.window).UnixNano()
	}

	heard := s.stream.search(vec, streamResults, cutoff)
	facts := s.longTerm.search(vec, longTermResults, 0)

	answer, err := s.gen.Generate(ctx, systemPrompt(heard, facts), userQuery)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	return answer, nil
}

func systemPrompt(heard, facts []Record) string {
	var b strings.Builder
	b.WriteString("--- SYSTEM AUDIO CONTEXT (What the user heard) ---\n")
	for _, r := range heard {
		b.WriteString("- ")
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	b.WriteString("\n--- LONG TERM HISTORY (Browser/Facts) ---\n")
	for _, r := range facts {
		b.WriteString("- ")
		b.WriteString(r.Text)
		b.WriteString("\n")
	}

	return fmt.Sprintf(`You are Omni, a helpful AI assistant.
You have access to what the user is currently hearing on their computer (System Audio) and what they have seen (Browser History).

Use the provided Context to answer the user's question.
If the answer is not in the context, use your general knowledge but mention that you don't recall hearing it recently.

CONTEXT:
%s`, b.String())
}
