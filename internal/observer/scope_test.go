package observer_test

import (
	"context"
	"testing"
	"time"

	"persistid/internal/observer"
)

func TestScopeDestroyedIsTerminal(t *testing.T) {
	scope := observer.NewScope(observer.Started)
	scope.End()
	scope.SetState(observer.Resumed)
	if got := scope.State(); got != observer.Destroyed {
		t.Fatalf("State = %s, want destroyed", got)
	}
	select {
	case <-scope.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestScopeFromContextEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scope := observer.ScopeFromContext(ctx)
	if got := scope.State(); got != observer.Resumed {
		t.Fatalf("State = %s, want resumed", got)
	}
	cancel()
	select {
	case <-scope.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scope did not end with its context")
	}
}

func TestStateOrdering(t *testing.T) {
	tests := []struct {
		state observer.State
		min   observer.State
		want  bool
	}{
		{observer.Resumed, observer.Started, true},
		{observer.Started, observer.Started, true},
		{observer.Created, observer.Started, false},
		{observer.Destroyed, observer.Initialized, false},
	}
	for _, tt := range tests {
		if got := tt.state.AtLeast(tt.min); got != tt.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tt.state, tt.min, got, tt.want)
		}
	}
}
