// Package trigger matches transcribed user speech against a small ordered
// table of phrase/action pairs. It is a gate in front of the query path,
// not an intent classifier: matching is plain case-insensitive substring
// search, and the query path always runs afterwards.
package trigger

import (
	"context"
	"strings"
)

// Action runs when its phrase is heard. Actions are expected to log their
// own outcome; nothing they produce feeds back into the pipeline.
type Action func(ctx context.Context)

type Trigger struct {
	Phrase string
	Action Action
}

// Table is an ordered list of triggers, evaluated once per utterance.
type Table struct {
	triggers []Trigger
}

func NewTable(triggers ...Trigger) *Table {
	return &Table{triggers: triggers}
}

// Check fires every trigger whose phrase occurs in text and returns the
// number of actions that ran.
func (t *Table) Check(ctx context.Context, text string) int {
	lower := strings.ToLower(text)

	fired := 0
	for _, tr := range t.triggers {
		if tr.Phrase == "" || tr.Action == nil {
			continue
		}
		if strings.Contains(lower, strings.ToLower(tr.Phrase)) {
			tr.Action(ctx)
			fired++
		}
	}
	return fired
}
