package model

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateRunning, true},
		{StatePending, StateCancelled, true},
		{StatePending, StateSucceeded, false},
		{StateRunning, StateSucceeded, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateTimedOut, true},
		{StateRunning, StateCancelled, true},
		{StateRunning, StatePending, false},
		{StateSucceeded, StateFailed, false},
		{StateTimedOut, StateSucceeded, false},
		{StateCancelled, StateRunning, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateStatus(t *testing.T) {
	states := []struct {
		state    State
		status   string
		terminal bool
	}{
		{StatePending, StatusPending, false},
		{StateRunning, StatusPending, false},
		{StateSucceeded, StatusSuccess, true},
		{StateFailed, StatusError, true},
		{StateTimedOut, StatusTimeout, true},
		{StateCancelled, StatusCancelled, true},
	}
	for _, s := range states {
		if got := s.state.Status(); got != s.status {
			t.Errorf("%s.Status() = %q, want %q", s.state, got, s.status)
		}
		if got := s.state.IsTerminal(); got != s.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", s.state, got, s.terminal)
		}
	}
}

func TestOperationCloneIsDeep(t *testing.T) {
	now := time.Now()
	op := Operation{
		ID:      NewID(),
		State:   StateSucceeded,
		Request: Request{Tool: "execute_code", Params: json.RawMessage(`{"code":"return 1;"}`)},
		Result: &Result{
			Value: json.RawMessage(`1`),
			Logs:  []string{"a"},
		},
		CompletedAt: &now,
	}

	c := op.Clone()
	c.Request.Params[0] = 'X'
	c.Result.Logs[0] = "b"
	*c.CompletedAt = now.Add(time.Hour)

	if op.Request.Params[0] != '{' {
		t.Errorf("clone shares request params")
	}
	if op.Result.Logs[0] != "a" {
		t.Errorf("clone shares result logs")
	}
	if !op.CompletedAt.Equal(now) {
		t.Errorf("clone shares completed_at")
	}
}
