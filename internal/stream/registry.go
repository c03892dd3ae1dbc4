package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yok-tottii/camstream/internal/logger"
)

// Info describes one attached producer
type Info struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Remote  string    `json:"remote"`
	Started time.Time `json:"started"`
}

// Registry tracks every running producer so the gateway can list them and
// cancel them all on shutdown
type Registry struct {
	observer Observer
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	entries map[string]Info
	closed  bool
	wg      sync.WaitGroup
}

// NewRegistry creates an empty registry
func NewRegistry(observer Observer, log *logger.Logger) *Registry {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Registry{
		observer: observerOrNoop(observer),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]Info),
	}
}

// Run registers a producer, calls fn with a context that ends when ctx
// does or the registry shuts down, and unregisters it when fn returns
func (r *Registry) Run(ctx context.Context, kind Kind, remote string, fn func(ctx context.Context) error) error {
	info := Info{
		ID:      uuid.NewString(),
		Kind:    kind,
		Remote:  remote,
		Started: time.Now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &EndError{Reason: Shutdown, Err: ErrShutdown}
	}
	r.entries[info.ID] = info
	r.wg.Add(1)
	r.mu.Unlock()

	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.entries, info.ID)
		r.mu.Unlock()
	}()

	pctx, pcancel := context.WithCancelCause(ctx)
	defer pcancel(nil)
	stop := context.AfterFunc(r.ctx, func() { pcancel(ErrShutdown) })
	defer stop()

	log := r.log.With("conn", info.ID).With("kind", string(kind))
	log.Info("Producer attached for %s", remote)
	r.observer.ProducerStarted(string(kind))

	err := fn(pctx)

	reason := ReasonOf(err)
	elapsed := time.Since(info.Started)
	r.observer.ProducerEnded(string(kind), reason.String(), elapsed)

	switch reason {
	case PeerDisconnected, Shutdown:
		log.Info("Producer ended after %v: %s", elapsed.Round(time.Millisecond), reason)
	default:
		log.Error("Producer ended after %v: %v", elapsed.Round(time.Millisecond), err)
	}

	return err
}

// List returns the attached producers, oldest first
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]Info, 0, len(r.entries))
	for _, info := range r.entries {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Started.Before(list[j].Started)
	})
	return list
}

// Len returns the number of attached producers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Shutdown cancels every producer and waits for them to return or for ctx
// to end. New producers are rejected afterwards. It is safe to call more than once.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel(ErrShutdown)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
