package inventory

import "context"

// PostingObserver receives transactions after they commit.
type PostingObserver interface {
	PostingsCommitted(ctx context.Context, txs []Transaction)
}

// ObserverFunc adapts a function into a PostingObserver.
type ObserverFunc func(ctx context.Context, txs []Transaction)

// PostingsCommitted calls f.
func (f ObserverFunc) PostingsCommitted(ctx context.Context, txs []Transaction) { f(ctx, txs) }

// Subscribe registers an observer for committed postings.
func (s *Service) Subscribe(o PostingObserver) {
	if o == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Notify fans committed postings out to observers. Callers that post through
// PostInTx call it once their unit of work has committed.
func (s *Service) Notify(ctx context.Context, txs []Transaction) {
	if len(txs) == 0 {
		return
	}
	s.mu.RLock()
	observers := append([]PostingObserver(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o.PostingsCommitted(ctx, txs)
	}
}
