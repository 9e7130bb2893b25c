package registry

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/unitybridge/internal/model"
)

func testRequest() model.Request {
	return model.Request{Tool: "execute_code", Params: json.RawMessage(`{"code":"return 42;"}`)}
}

func TestCreateStartsPending(t *testing.T) {
	r := New()
	id := r.Create(testRequest())

	op, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, op.ID)
	assert.Equal(t, model.StatePending, op.State)
	assert.Equal(t, "execute_code", op.Request.Tool)
	assert.JSONEq(t, `{"code":"return 42;"}`, string(op.Request.Params))
	assert.False(t, op.CreatedAt.IsZero())
	assert.Nil(t, op.CompletedAt)
	assert.Nil(t, op.Result)
}

func TestGetUnknownID(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Done("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, r.Transition("missing", model.StateRunning, Payload{}), ErrNotFound)
}

func TestTransitionLifecycle(t *testing.T) {
	r := New()
	id := r.Create(testRequest())

	require.NoError(t, r.Transition(id, model.StateRunning, Payload{}))
	op, _ := r.Get(id)
	assert.Equal(t, model.StateRunning, op.State)
	require.NotNil(t, op.StartedAt)

	res := &model.Result{Value: json.RawMessage(`42`), Logs: []string{"ok"}, ExecutionTimeMS: 10}
	require.NoError(t, r.Transition(id, model.StateSucceeded, Payload{Result: res}))

	op, _ = r.Get(id)
	assert.Equal(t, model.StateSucceeded, op.State)
	require.NotNil(t, op.Result)
	assert.JSONEq(t, `42`, string(op.Result.Value))
	assert.Equal(t, []string{"ok"}, op.Result.Logs)
	assert.Empty(t, op.Error)
	require.NotNil(t, op.CompletedAt)

	// Mutating the caller's payload afterwards must not leak into the store.
	res.Logs[0] = "changed"
	op, _ = r.Get(id)
	assert.Equal(t, "ok", op.Result.Logs[0])
}

func TestTransitionRejectsSecondTerminalWrite(t *testing.T) {
	r := New()
	id := r.Create(testRequest())
	require.NoError(t, r.Transition(id, model.StateRunning, Payload{}))
	require.NoError(t, r.Transition(id, model.StateTimedOut, Payload{Error: "deadline exceeded"}))

	for _, to := range []model.State{model.StateSucceeded, model.StateFailed, model.StateCancelled, model.StateTimedOut, model.StateRunning} {
		err := r.Transition(id, to, Payload{Error: "late", Result: &model.Result{}})
		assert.ErrorIs(t, err, ErrAlreadyTerminal, "transition to %s", to)
	}

	op, _ := r.Get(id)
	assert.Equal(t, model.StateTimedOut, op.State)
	assert.Equal(t, "deadline exceeded", op.Error)
	assert.Nil(t, op.Result)
}

func TestTransitionInvalidFromPending(t *testing.T) {
	r := New()
	id := r.Create(testRequest())

	err := r.Transition(id, model.StateSucceeded, Payload{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	op, _ := r.Get(id)
	assert.Equal(t, model.StatePending, op.State)
}

func TestConcurrentTerminalWritesExactlyOneWins(t *testing.T) {
	r := New()
	for range 200 {
		id := r.Create(testRequest())
		require.NoError(t, r.Transition(id, model.StateRunning, Payload{}))

		outcomes := []model.State{model.StateSucceeded, model.StateFailed, model.StateTimedOut, model.StateCancelled}
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []model.State
		)
		for _, st := range outcomes {
			wg.Go(func() {
				if err := r.Transition(id, st, Payload{Result: &model.Result{}, Error: string(st)}); err == nil {
					mu.Lock()
					winners = append(winners, st)
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, ErrAlreadyTerminal)
				}
			})
		}
		wg.Wait()

		require.Len(t, winners, 1)
		op, _ := r.Get(id)
		assert.Equal(t, winners[0], op.State)
	}
}

func TestRequestCancel(t *testing.T) {
	r := New()

	assert.Equal(t, CancelNotFound, r.RequestCancel("missing"))

	id := r.Create(testRequest())
	assert.Equal(t, CancelAccepted, r.RequestCancel(id))
	op, _ := r.Get(id)
	assert.True(t, op.CancelRequested)
	assert.Equal(t, model.StatePending, op.State, "cancel request alone must not change state")

	require.NoError(t, r.Transition(id, model.StateCancelled, Payload{}))
	assert.Equal(t, CancelAlreadyTerminal, r.RequestCancel(id))
}

func TestDoneClosesOnTerminal(t *testing.T) {
	r := New()
	id := r.Create(testRequest())
	done, err := r.Done(id)
	require.NoError(t, err)

	require.NoError(t, r.Transition(id, model.StateRunning, Payload{}))
	select {
	case <-done:
		t.Fatal("done closed before terminal state")
	default:
	}

	require.NoError(t, r.Transition(id, model.StateFailed, Payload{Error: "boom"}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done not closed after terminal state")
	}
}

func TestConcurrentCreateUniqueIDs(t *testing.T) {
	r := New()
	const workers, perWorker = 16, 200

	ids := make(chan string, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for range perWorker {
				ids <- r.Create(testRequest())
			}
		})
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestListNewestFirstWithPaging(t *testing.T) {
	r := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var ids []string
	for range 5 {
		ids = append(ids, r.Create(testRequest()))
	}
	// Complete one, leave the others pending.
	require.NoError(t, r.Transition(ids[1], model.StateRunning, Payload{}))
	require.NoError(t, r.Transition(ids[1], model.StateSucceeded, Payload{Result: &model.Result{}}))

	ops, total := r.List(0, 0)
	assert.Equal(t, 5, total)
	require.Len(t, ops, 5)
	for i, op := range ops {
		assert.Equal(t, ids[len(ids)-1-i], op.ID)
	}

	page, total := r.List(2, 1)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	empty, _ := r.List(10, 50)
	assert.Empty(t, empty)
}

func TestStats(t *testing.T) {
	r := NewSharded(4)
	a := r.Create(testRequest())
	r.Create(testRequest())
	require.NoError(t, r.Transition(a, model.StateCancelled, Payload{}))

	st := r.Stats()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByState[model.StatePending])
	assert.Equal(t, 1, st.ByState[model.StateCancelled])
}
