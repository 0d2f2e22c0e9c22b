package delegated

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAnswerResolvesWaiter(t *testing.T) {
	r := NewRegistry()
	p, err := r.RegisterPending("m-1", "call-1", "run_shell")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, r.Answer("m-1", "call-1", "ok"))
	}()

	value, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", value)
}

func TestCancelRejectsWaiter(t *testing.T) {
	r := NewRegistry()
	p, err := r.RegisterPending("m-1", "call-1", "run_shell")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, r.Cancel("m-1", "call-1", "user declined"))
	}()

	_, err = p.Wait(context.Background())
	require.EqualError(t, err, "user declined")
}

func TestAnswerUnknownCallReturnsErrNotPending(t *testing.T) {
	r := NewRegistry()
	err := r.Answer("m-1", "ghost", "x")
	require.ErrorIs(t, err, ErrNotPending)
}

func TestRegisterPendingRejectsDuplicateCallID(t *testing.T) {
	r := NewRegistry()
	first, err := r.RegisterPending("m-1", "call-1", "run_shell")
	require.NoError(t, err)

	second, err := r.RegisterPending("m-1", "call-1", "run_shell")
	require.Nil(t, second)
	require.ErrorIs(t, err, ErrAlreadyPending)

	// The original registration is untouched and still resolvable.
	require.NoError(t, r.Answer("m-1", "call-1", "ok"))
	value, err := first.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", value)
}

func TestDoubleAnswerIsIdempotentToFirstOutcome(t *testing.T) {
	r := NewRegistry()
	p, err := r.RegisterPending("m-1", "call-1", "run_shell")
	require.NoError(t, err)
	require.NoError(t, r.Answer("m-1", "call-1", "first"))
	// Second answer targets an already-removed entry.
	require.ErrorIs(t, r.Answer("m-1", "call-1", "second"), ErrNotPending)

	value, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", value)
}

func TestCancelAllFailsEveryOutstandingEntry(t *testing.T) {
	r := NewRegistry()
	p1, err := r.RegisterPending("m-1", "call-1", "run_shell")
	require.NoError(t, err)
	p2, err := r.RegisterPending("m-1", "call-2", "edit_file")
	require.NoError(t, err)
	other, err := r.RegisterPending("m-2", "call-3", "run_shell")
	require.NoError(t, err)

	r.CancelAll("m-1", "minion removed")

	_, err1 := p1.Wait(context.Background())
	_, err2 := p2.Wait(context.Background())
	require.EqualError(t, err1, "minion removed")
	require.EqualError(t, err2, "minion removed")

	_, stillPending := r.GetLatestPending("m-2")
	require.True(t, stillPending)
	require.NoError(t, r.Answer("m-2", "call-3", "unaffected"))
	value, err := other.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "unaffected", value)
}

func TestGetLatestPendingReturnsNewestByCreatedAt(t *testing.T) {
	r := NewRegistry()
	r.RegisterPending("m-1", "call-1", "run_shell")
	time.Sleep(5 * time.Millisecond)
	r.RegisterPending("m-1", "call-2", "edit_file")

	latest, ok := r.GetLatestPending("m-1")
	require.True(t, ok)
	require.Equal(t, "call-2", latest.ToolCallID)
}

func TestGetLatestPendingEmptyReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.GetLatestPending("m-1")
	require.False(t, ok)
}

func TestWaitWithAbortCancelsOnContextDone(t *testing.T) {
	r := NewRegistry()
	p, err := r.RegisterPending("m-1", "call-1", "run_shell")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var waitErr error
	go func() {
		_, waitErr = p.WaitWithAbort(ctx, r)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitWithAbort did not return after context cancellation")
	}
	require.ErrorIs(t, waitErr, context.Canceled)

	// The pending call must have been canceled with reason "Interrupted",
	// so it is no longer outstanding.
	_, ok := r.GetLatestPending("m-1")
	require.False(t, ok)
}

func TestWaitWithAbortResolvesNormallyWithoutAbort(t *testing.T) {
	r := NewRegistry()
	p, err := r.RegisterPending("m-1", "call-1", "run_shell")
	require.NoError(t, err)
	go func() {
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, r.Answer("m-1", "call-1", "done"))
	}()

	value, err := p.WaitWithAbort(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "done", value)
}
