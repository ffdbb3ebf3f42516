package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterUnregisterLifecycle(t *testing.T) {
	r := New()
	_, cancel := context.WithCancel(context.Background())

	ok := r.Register("req-1", ControllerFunc(cancel))
	require.True(t, ok)
	require.Equal(t, []string{"req-1"}, r.ListActive())

	r.Unregister("req-1")
	require.Empty(t, r.ListActive())
	require.Equal(t, 0, r.Len())
}

func TestRegisterRejectsDuplicateRequestID(t *testing.T) {
	r := New()
	require.True(t, r.Register("req-1", ControllerFunc(func() {})))
	require.False(t, r.Register("req-1", ControllerFunc(func() {})))
	require.Equal(t, 1, r.Len())
}

func TestAbortCancelsContextAndIsIdempotent(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	r.Register("req-1", ControllerFunc(cancel))

	require.True(t, r.Abort("req-1"))
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled")
	}

	// Abort is idempotent: a call after unregister returns false rather
	// than erroring.
	r.Unregister("req-1")
	require.False(t, r.Abort("req-1"))
}

func TestAbortUnknownRequestIDReturnsFalse(t *testing.T) {
	r := New()
	require.False(t, r.Abort("does-not-exist"))
}

func TestRegisterRejectsEmptyRequestIDOrNilController(t *testing.T) {
	r := New()
	require.False(t, r.Register("", ControllerFunc(func() {})))
	require.False(t, r.Register("req-1", nil))
	require.Equal(t, 0, r.Len())
}

func TestListActiveIsSortedAndConcurrencySafe(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	ids := []string{"req-c", "req-a", "req-b"}
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(id, ControllerFunc(func() {}))
		}()
	}
	wg.Wait()
	require.Equal(t, []string{"req-a", "req-b", "req-c"}, r.ListActive())
}
