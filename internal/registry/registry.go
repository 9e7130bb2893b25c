package registry

import (
	"cmp"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/seantiz/unitybridge/internal/model"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 32

var (
	// ErrNotFound is returned when an operation id is unknown.
	ErrNotFound = errors.New("operation not found")

	// ErrAlreadyTerminal is returned when a transition targets an operation
	// that has already reached a terminal state.
	ErrAlreadyTerminal = errors.New("operation already completed")

	// ErrInvalidTransition is returned for a transition the state machine
	// does not allow from a non-terminal state (e.g. pending -> succeeded).
	ErrInvalidTransition = errors.New("invalid state transition")
)

// CancelOutcome is the result of a cancel request.
type CancelOutcome string

// Cancel outcomes.
const (
	CancelAccepted        CancelOutcome = "accepted"
	CancelAlreadyTerminal CancelOutcome = "already_completed"
	CancelNotFound        CancelOutcome = "not_found"
)

// Payload carries the data attached to a transition. Result is kept only for
// succeeded operations, Error only for failed and timed out ones.
type Payload struct {
	Result *model.Result
	Error  string
}

// Stats holds aggregate operation counts.
type Stats struct {
	Total   int                 `json:"total"`
	ByState map[model.State]int `json:"by_state"`
}

// Registry is a sharded, concurrency-safe operation table.
type Registry struct {
	shards []*shard
	now    func() time.Time
}

type shard struct {
	mu  sync.RWMutex
	ops map[string]*entry
}

type entry struct {
	op   model.Operation
	done chan struct{}
}

// New creates an empty registry with DefaultShards shards.
func New() *Registry {
	return NewSharded(DefaultShards)
}

// NewSharded creates an empty registry with n lock shards (minimum 1).
func NewSharded(n int) *Registry {
	if n < 1 {
		n = 1
	}
	r := &Registry{
		shards: make([]*shard, n),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for i := range r.shards {
		r.shards[i] = &shard{ops: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Create allocates a new pending operation for req and returns its id.
func (r *Registry) Create(req model.Request) string {
	for {
		id := model.NewID()
		s := r.shardFor(id)

		s.mu.Lock()
		if _, exists := s.ops[id]; exists {
			s.mu.Unlock()
			continue
		}
		s.ops[id] = &entry{
			op: model.Operation{
				ID:        id,
				State:     model.StatePending,
				Request:   req.Clone(),
				CreatedAt: r.now(),
			},
			done: make(chan struct{}),
		}
		s.mu.Unlock()
		return id
	}
}

// Transition moves the operation to state to and attaches payload. It returns
// ErrNotFound for unknown ids, ErrAlreadyTerminal when the operation is
// already final (the stored state is left untouched) and ErrInvalidTransition
// for any other disallowed move.
func (r *Registry) Transition(id string, to model.State, payload Payload) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ops[id]
	if !ok {
		return ErrNotFound
	}
	from := e.op.State
	if from.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if !model.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := r.now()
	e.op.State = to
	switch to {
	case model.StateRunning:
		e.op.StartedAt = &now
	case model.StateSucceeded:
		e.op.Result = payload.Result.Clone()
	case model.StateFailed, model.StateTimedOut:
		e.op.Error = payload.Error
	}
	if to.IsTerminal() {
		e.op.CompletedAt = &now
		close(e.done)
	}
	return nil
}

// Get returns a snapshot of the operation with the given id.
func (r *Registry) Get(id string) (model.Operation, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.ops[id]
	if !ok {
		return model.Operation{}, ErrNotFound
	}
	return e.op.Clone(), nil
}

// Done returns a channel that is closed once the operation reaches a
// terminal state.
func (r *Registry) Done(id string) (<-chan struct{}, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.done, nil
}

// RequestCancel flags the operation as cancel-requested. The state itself is
// not changed; committing Cancelled is the lifecycle engine's job.
func (r *Registry) RequestCancel(id string) CancelOutcome {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ops[id]
	if !ok {
		return CancelNotFound
	}
	if e.op.State.IsTerminal() {
		return CancelAlreadyTerminal
	}
	e.op.CancelRequested = true
	return CancelAccepted
}

// List returns a page of operations ordered newest first, along with the
// total number of operations.
func (r *Registry) List(limit, offset int) ([]model.Operation, int) {
	var all []model.Operation
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.ops {
			all = append(all, e.op.Clone())
		}
		s.mu.RUnlock()
	}

	// ULIDs sort by creation time, which breaks ties inside one timestamp.
	slices.SortFunc(all, func(a, b model.Operation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []model.Operation{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total
}

// Stats returns counts of operations per state.
func (r *Registry) Stats() Stats {
	st := Stats{ByState: make(map[model.State]int)}
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.ops {
			st.Total++
			st.ByState[e.op.State]++
		}
		s.mu.RUnlock()
	}
	return st
}
