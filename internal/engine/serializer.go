package engine

import (
	"context"
	"sync"
	"time"
)

// Serializer gives each session key its own single worker so that turns for
// one session run strictly in arrival order while different sessions never
// block each other. Workers that stay idle past the TTL remove themselves
// from the registry.
type Serializer struct {
	idleTTL time.Duration

	mu      sync.Mutex
	workers map[string]*sessionWorker
}

type sessionWorker struct {
	tasks chan func()
	// pending counts tasks handed to this worker that have not finished
	// yet. Guarded by Serializer.mu; a worker only evicts itself when it
	// reaches zero, so a task can never be queued on a dead worker.
	pending int
}

func NewSerializer(idleTTL time.Duration) *Serializer {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Serializer{
		idleTTL: idleTTL,
		workers: make(map[string]*sessionWorker),
	}
}

// Do runs fn on the worker for key and waits for it to finish. If ctx is
// cancelled while waiting, Do returns early but fn still runs in its turn.
func (s *Serializer) Do(ctx context.Context, key string, fn func()) error {
	done := make(chan struct{})
	s.enqueue(key, func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serializer) enqueue(key string, task func()) {
	s.mu.Lock()
	w, ok := s.workers[key]
	if !ok {
		w = &sessionWorker{tasks: make(chan func(), 32)}
		s.workers[key] = w
		go s.run(key, w)
	}
	w.pending++
	s.mu.Unlock()

	w.tasks <- task
}

func (s *Serializer) run(key string, w *sessionWorker) {
	idle := time.NewTimer(s.idleTTL)
	defer idle.Stop()

	for {
		select {
		case task := <-w.tasks:
			task()
			s.mu.Lock()
			w.pending--
			s.mu.Unlock()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(s.idleTTL)
		case <-idle.C:
			s.mu.Lock()
			if w.pending > 0 {
				s.mu.Unlock()
				idle.Reset(s.idleTTL)
				continue
			}
			delete(s.workers, key)
			s.mu.Unlock()
			return
		}
	}
}

// WorkerCount reports how many session workers are currently alive.
func (s *Serializer) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}
