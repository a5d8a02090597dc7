package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedder produces a deterministic bag-of-words vector, so texts that
// share words score high cosine similarity and disjoint texts score zero.
type hashEmbedder struct {
	err error
}

func (h hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if h.err != nil {
		return nil, h.err
	}
	vec := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		f.Write([]byte(w))
		vec[f.Sum32()%64]++
	}
	return vec, nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	system string
	user   string
	answer string
	err    error
}

func (g *fakeGenerator) Generate(_ context.Context, system, user string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.system = system
	g.user = user
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func newTestStore(t *testing.T, opts Options) (*Store, *fakeGenerator) {
	t.Helper()
	gen := &fakeGenerator{answer: "answer"}
	s, err := NewStore(hashEmbedder{}, gen, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, gen
}

func TestAddIgnoresBlankText(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "", SourceSystem, nil))
	require.NoError(t, s.Add(ctx, "   ", SourceBrowser, map[string]any{}))
	require.NoError(t, s.Add(ctx, "\n\t", SourceUserFact, nil))

	stream, longTerm := s.Counts()
	assert.Equal(t, 0, stream)
	assert.Equal(t, 0, longTerm)
}

func TestAddRoutesBySource(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "heard on the radio", SourceSystem, nil))
	require.NoError(t, s.Add(ctx, "visited a website", SourceBrowser, nil))
	require.NoError(t, s.Add(ctx, "likes coffee", SourceUserFact, nil))

	stream, longTerm := s.Counts()
	assert.Equal(t, 1, stream)
	assert.Equal(t, 2, longTerm, "every non-system source lands in long_term_history")

	assert.Equal(t, "heard on the radio", s.stream.recs[0].Text)
	for _, r := range s.longTerm.recs {
		assert.NotEqual(t, SourceSystem, r.Source, "collections must not cross-contaminate")
	}
}

func TestAddDistinctIDsUnderTimestampCollision(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	// Back-to-back inserts land within clock resolution often enough.
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Add(ctx, "same text", SourceSystem, map[string]any{"k": "v"}))
	}

	seen := make(map[string]bool)
	for _, r := range s.stream.recs {
		assert.False(t, seen[r.ID], "duplicate record id %s", r.ID)
		seen[r.ID] = true
	}
	assert.Len(t, seen, 50)
}

func TestAddMetadataCarriesTimestampAndSource(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	require.NoError(t, s.Add(context.Background(), "note", SourceBrowser, map[string]any{"url": "https://x"}))

	r := s.longTerm.recs[0]
	assert.Equal(t, "https://x", r.Metadata["url"])
	assert.Equal(t, SourceBrowser, r.Metadata["source"])
	ts, ok := r.Metadata["timestamp"].(float64)
	require.True(t, ok)
	assert.InDelta(t, float64(time.Now().UnixNano())/1e9, ts, 5)
}

func TestAddEmbeddingFailure(t *testing.T) {
	gen := &fakeGenerator{}
	s, err := NewStore(hashEmbedder{err: errors.New("api down")}, gen, Options{})
	require.NoError(t, err)

	err = s.Add(context.Background(), "text", SourceSystem, nil)
	assert.ErrorIs(t, err, ErrEmbed)

	stream, _ := s.Counts()
	assert.Equal(t, 0, stream, "failed embeds must not leave partial records")
}

func TestQueryEmptyStoreFallsBack(t *testing.T) {
	s, gen := newTestStore(t, Options{})

	answer, err := s.Query(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.Equal(t, "answer", answer)
	assert.Contains(t, gen.system, "--- SYSTEM AUDIO CONTEXT (What the user heard) ---")
	assert.Contains(t, gen.system, "--- LONG TERM HISTORY (Browser/Facts) ---")
	assert.Equal(t, "anything at all", gen.user)
}

func TestQueryRetrievesFromBothCollections(t *testing.T) {
	s, gen := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "The weather today is sunny", SourceSystem, nil))
	require.NoError(t, s.Add(ctx, "User prefers metric units", SourceUserFact, nil))

	_, err := s.Query(ctx, "what's the weather")
	require.NoError(t, err)

	streamLabel := strings.Index(gen.system, "--- SYSTEM AUDIO CONTEXT")
	longTermLabel := strings.Index(gen.system, "--- LONG TERM HISTORY")
	sunny := strings.Index(gen.system, "The weather today is sunny")
	metric := strings.Index(gen.system, "User prefers metric units")

	require.NotEqual(t, -1, sunny)
	require.NotEqual(t, -1, metric)
	assert.True(t, streamLabel < sunny && sunny < longTermLabel,
		"the overheard weather line belongs to the stream block")
	assert.True(t, longTermLabel < metric,
		"the user fact belongs to the long-term block")
}

func TestQueryStreamWindowFilter(t *testing.T) {
	s, gen := newTestStore(t, Options{Window: 30 * time.Minute})
	ctx := context.Background()

	// An hour-old record, inserted past the public API to control its age.
	vec, _ := hashEmbedder{}.Embed(ctx, "stale news bulletin")
	s.stream.insert(Record{
		ID:        "old",
		Text:      "stale news bulletin",
		Source:    SourceSystem,
		Timestamp: time.Now().Add(-time.Hour),
		Embedding: vec,
	})
	require.NoError(t, s.Add(ctx, "fresh news bulletin", SourceSystem, nil))

	_, err := s.Query(ctx, "news bulletin")
	require.NoError(t, err)
	assert.Contains(t, gen.system, "fresh news bulletin")
	assert.NotContains(t, gen.system, "stale news bulletin",
		"stream retrieval must honor the time window")
}

func TestQueryErrorPaths(t *testing.T) {
	t.Run("embedding failure", func(t *testing.T) {
		s, err := NewStore(hashEmbedder{err: errors.New("down")}, &fakeGenerator{}, Options{})
		require.NoError(t, err)
		_, err = s.Query(context.Background(), "q")
		assert.ErrorIs(t, err, ErrEmbed)
	})

	t.Run("generation failure", func(t *testing.T) {
		s, err := NewStore(hashEmbedder{}, &fakeGenerator{err: errors.New("down")}, Options{})
		require.NoError(t, err)
		_, err = s.Query(context.Background(), "q")
		assert.ErrorIs(t, err, ErrGenerate)
	})
}

func TestConcurrentAddAndQuery(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		source := SourceSystem
		if w == 1 {
			source = SourceBrowser
		}
		wg.Add(1)
		go func(source string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, s.Add(ctx, "interleaved insert payload", source, nil))
			}
		}(source)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := s.Query(ctx, "interleaved insert payload")
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	stream, longTerm := s.Counts()
	assert.Equal(t, 50, stream)
	assert.Equal(t, 50, longTerm)

	// All-or-nothing visibility: every observable record is complete.
	for _, r := range append(append([]Record{}, s.stream.recs...), s.longTerm.recs...) {
		assert.NotEmpty(t, r.ID)
		assert.NotEmpty(t, r.Text)
		assert.NotEmpty(t, r.Embedding)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s1, _ := newTestStore(t, Options{Path: path})
	require.NoError(t, s1.Add(ctx, "The weather today is sunny", SourceSystem, nil))
	require.NoError(t, s1.Add(ctx, "User visited example.com", SourceBrowser, map[string]any{"url": "https://example.com"}))
	require.NoError(t, s1.Close())

	s2, gen := newTestStore(t, Options{Path: path})
	stream, longTerm := s2.Counts()
	assert.Equal(t, 1, stream)
	assert.Equal(t, 1, longTerm)

	_, err := s2.Query(ctx, "what's the weather")
	require.NoError(t, err)
	assert.Contains(t, gen.system, "The weather today is sunny",
		"reloaded records must be retrievable")
}
