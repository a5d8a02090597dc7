package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni/internal/audio"
	"omni/internal/trigger"
)

// scriptedSTT returns one canned result per call, in order.
type scriptedSTT struct {
	mu      sync.Mutex
	results []string
	errs    []error
	calls   int
}

func (s *scriptedSTT) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var text string
	if i < len(s.results) {
		text = s.results[i]
	}
	return text, err
}

type recordedAdd struct {
	text   string
	source string
}

type fakeStore struct {
	mu   sync.Mutex
	adds []recordedAdd
	err  error
}

func (f *fakeStore) Add(ctx context.Context, text, source string, meta map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, recordedAdd{text: text, source: source})
	return f.err
}

type fakeAnswerer struct {
	mu      sync.Mutex
	queries []string
	answer  string
	err     error
}

func (f *fakeAnswerer) Query(ctx context.Context, q string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.answer, f.err
}

func runDispatcher(t *testing.T, d *Dispatcher, q *Queue, segs ...*audio.Segment) {
	t.Helper()
	for _, s := range segs {
		q.Push(s)
	}
	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	// Drain, then close to stop the loop.
	for q.Depth() > 0 {
		time.Sleep(time.Millisecond)
	}
	q.Close()
	<-done
}

func TestDispatcherRoutesSystemToMemory(t *testing.T) {
	q := NewQueue(0)
	stt := &scriptedSTT{results: []string{"a podcast about go"}}
	store := &fakeStore{}
	ans := &fakeAnswerer{answer: "ok"}
	d := NewDispatcher(q, stt, store, ans, nil)

	runDispatcher(t, d, q, seg(audio.SourceSystem))

	require.Len(t, store.adds, 1)
	assert.Equal(t, "a podcast about go", store.adds[0].text)
	assert.Equal(t, audio.SourceSystem, store.adds[0].source)
	assert.Empty(t, ans.queries, "passive segments must not reach the query path")
}

func TestDispatcherRoutesUserToQuery(t *testing.T) {
	q := NewQueue(0)
	stt := &scriptedSTT{results: []string{"what did I just hear"}}
	store := &fakeStore{}
	ans := &fakeAnswerer{answer: "you heard a podcast"}

	fired := 0
	triggers := trigger.NewTable(trigger.Trigger{
		Phrase: "fix my wifi",
		Action: func(context.Context) { fired++ },
	})
	d := NewDispatcher(q, stt, store, ans, triggers)

	var answered string
	d.OnAnswer = func(query, answer string) { answered = answer }

	runDispatcher(t, d, q, seg(audio.SourceUser))

	require.Equal(t, []string{"what did I just hear"}, ans.queries)
	assert.Empty(t, store.adds, "user segments are not stored by the dispatcher")
	assert.Equal(t, 0, fired)
	assert.Equal(t, "you heard a podcast", answered)
}

func TestDispatcherTriggerFiresBeforeQuery(t *testing.T) {
	q := NewQueue(0)
	stt := &scriptedSTT{results: []string{"please fix my WiFi"}}
	ans := &fakeAnswerer{answer: "trying"}

	var order []string
	triggers := trigger.NewTable(trigger.Trigger{
		Phrase: "fix my wifi",
		Action: func(context.Context) { order = append(order, "trigger") },
	})
	d := NewDispatcher(q, stt, &fakeStore{}, ans, triggers)
	d.OnAnswer = func(string, string) { order = append(order, "answer") }

	runDispatcher(t, d, q, seg(audio.SourceUser))

	assert.Equal(t, []string{"trigger", "answer"}, order,
		"trigger runs first, query path still follows")
}

func TestDispatcherDropsEmptyTranscripts(t *testing.T) {
	q := NewQueue(0)
	stt := &scriptedSTT{results: []string{"", "   ", "\n\t"}}
	store := &fakeStore{}
	ans := &fakeAnswerer{}
	d := NewDispatcher(q, stt, store, ans, nil)

	runDispatcher(t, d, q,
		seg(audio.SourceSystem), seg(audio.SourceUser), seg(audio.SourceSystem))

	assert.Empty(t, store.adds)
	assert.Empty(t, ans.queries)
}

func TestDispatcherSurvivesPerItemFailures(t *testing.T) {
	q := NewQueue(0)
	stt := &scriptedSTT{
		results: []string{"", "still alive"},
		errs:    []error{errors.New("engine choked"), nil},
	}
	store := &fakeStore{}
	d := NewDispatcher(q, stt, store, &fakeAnswerer{}, nil)

	runDispatcher(t, d, q, seg(audio.SourceSystem), seg(audio.SourceSystem))

	require.Len(t, store.adds, 1, "one bad segment must never stop the dispatcher")
	assert.Equal(t, "still alive", store.adds[0].text)
}

func TestDispatcherQueryFailureDoesNotStopLoop(t *testing.T) {
	q := NewQueue(0)
	stt := &scriptedSTT{results: []string{"first", "second"}}
	ans := &fakeAnswerer{err: errors.New("model down")}
	d := NewDispatcher(q, stt, &fakeStore{}, ans, nil)

	runDispatcher(t, d, q, seg(audio.SourceUser), seg(audio.SourceUser))

	assert.Equal(t, []string{"first", "second"}, ans.queries)
}

func TestDispatcherCueOnUserSegment(t *testing.T) {
	q := NewQueue(0)
	stt := &scriptedSTT{results: []string{"anything", "anything"}}
	d := NewDispatcher(q, stt, &fakeStore{}, &fakeAnswerer{}, nil)

	cues := 0
	d.Cue = func() { cues++ }

	runDispatcher(t, d, q, seg(audio.SourceSystem), seg(audio.SourceUser))
	assert.Equal(t, 1, cues, "cue fires for user segments only")
}
