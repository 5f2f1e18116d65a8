package fixtures

import (
	"context"
	"io"

	ddd "github.com/GoooIce/loco-ddd"
)

// FailingIterator yields nothing and fails with err.
func FailingIterator(err error) *ddd.Iterator[*ddd.Envelope] {
	return ddd.NewIteratorFunc(func(ctx context.Context) (*ddd.Envelope, error) {
		return nil, err
	})
}

// EnvelopeIteratorFromEvents wraps events in envelopes and iterates them.
func EnvelopeIteratorFromEvents(events ...ddd.Event) *ddd.Iterator[*ddd.Envelope] {
	return ddd.NewSliceIterator(EnvelopesFromEvents(events...))
}

// FailAfterNIterator yields the first n envelopes, then fails with err.
func FailAfterNIterator(envelopes []*ddd.Envelope, n int, err error) *ddd.Iterator[*ddd.Envelope] {
	idx := 0
	return ddd.NewIteratorFunc(func(ctx context.Context) (*ddd.Envelope, error) {
		if idx >= n {
			return nil, err
		}
		if idx >= len(envelopes) {
			return nil, io.EOF
		}
		env := envelopes[idx]
		idx++
		return env, nil
	})
}
