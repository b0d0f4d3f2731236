package chunkstore

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkstore/internal/storage/memstore"
)

const waitFor = 5 * time.Second

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func newTestStore(t *testing.T, chunkLength int, driver *memstore.Driver, namer *Namer) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	if namer == nil {
		namer = NewNamer("test")
	}
	s, err := New(chunkLength, Options{Driver: driver, Namer: namer, Logger: logrus.NewEntry(logger)})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(nil) })
	return s
}

func awaitError(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitFor):
		t.Fatal("callback never fired")
		return nil
	}
}

func putKeys(d *memstore.Driver) []int {
	var keys []int
	for _, c := range d.CallsOf(memstore.OpPut) {
		keys = append(keys, c.Key)
	}
	return keys
}

func TestNewRejectsNonPositiveChunkLength(t *testing.T) {
	for _, n := range []int{0, -1, -4096} {
		_, err := New(n, Options{Driver: memstore.New()})
		assert.ErrorIs(t, err, ErrInvalidChunkLength, "length %d", n)
	}

	_, err := New(4, Options{})
	assert.Error(t, err)
}

func TestScenario(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t, 4, memstore.New(), nil)

	require.NoError(t, s.PutSync(ctx, 0, []byte{1, 2, 3, 4}))

	got, err := s.GetSync(ctx, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	got, err = s.GetSync(ctx, 0, &ReadOptions{Offset: 1, Length: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3}, got)

	_, err = s.GetSync(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrIndexNotFound)

	err = s.PutSync(ctx, 0, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidChunkLength)
}

func TestPutBeforeOpenRunsOnceReady(t *testing.T) {
	d := memstore.New()
	release := d.Hold()
	s := newTestStore(t, 4, d, nil)

	var calls atomic.Int32
	done := make(chan error, 2)
	s.Put(context.Background(), 7, []byte("abcd"), func(err error) {
		calls.Add(1)
		done <- err
	})

	select {
	case <-done:
		t.Fatal("put completed before the backend was ready")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateOpening, s.State())
	assert.Empty(t, d.CallsOf(memstore.OpPut))

	release()
	require.NoError(t, awaitError(t, done))

	got, err := s.GetSync(testContext(t), 7, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), got)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateReady, s.State())
}

func TestWrongLengthPutNeverReachesBackend(t *testing.T) {
	d := memstore.New()
	release := d.Hold()
	s := newTestStore(t, 4, d, nil)

	// Rejected even while the backend is still opening.
	done := make(chan error, 1)
	s.Put(context.Background(), 0, []byte{1, 2, 3}, func(err error) { done <- err })
	assert.ErrorIs(t, awaitError(t, done), ErrInvalidChunkLength)

	release()
	ctx := testContext(t)
	for _, data := range [][]byte{nil, {}, {1}, {1, 2, 3, 4, 5}} {
		assert.ErrorIs(t, s.PutSync(ctx, 0, data), ErrInvalidChunkLength)
	}
	require.NoError(t, s.CloseSync(ctx))

	assert.Empty(t, d.CallsOf(memstore.OpPut))
	assert.Empty(t, d.CallsOf(memstore.OpGet))
}

func TestQueuedOperationsRunInIssueOrder(t *testing.T) {
	d := memstore.New()
	release := d.Hold()
	s := newTestStore(t, 1, d, nil)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	issue := func(i int) {
		wg.Add(1)
		s.Put(context.Background(), i, []byte{byte(i)}, func(err error) {
			assert.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	for i := 1; i <= 50; i++ {
		issue(i)
	}
	release()
	issue(100)
	wg.Wait()

	want := make([]int, 0, 51)
	for i := 1; i <= 50; i++ {
		want = append(want, i)
	}
	want = append(want, 100)
	assert.Equal(t, want, putKeys(d), "backend writes")
	assert.Equal(t, want, order, "callbacks")
}

func TestPutOneThenTwoBeforeOpen(t *testing.T) {
	d := memstore.New()
	release := d.Hold()
	s := newTestStore(t, 2, d, nil)

	first := make(chan error, 1)
	second := make(chan error, 1)
	s.Put(context.Background(), 1, []byte{1, 1}, func(err error) { first <- err })
	s.Put(context.Background(), 2, []byte{2, 2}, func(err error) { second <- err })
	release()

	require.NoError(t, awaitError(t, first))
	require.NoError(t, awaitError(t, second))

	puts := d.CallsOf(memstore.OpPut)
	require.Len(t, puts, 2)
	assert.Equal(t, 1, puts[0].Key)
	assert.Equal(t, 2, puts[1].Key)
	assert.Less(t, puts[0].Seq, puts[1].Seq)
}

func TestCallbacksAreNeverInline(t *testing.T) {
	s := newTestStore(t, 4, memstore.New(), nil)

	block := make(chan struct{})
	s.events.Post(func() { <-block })

	var called atomic.Bool
	done := make(chan struct{})
	s.Put(context.Background(), 0, []byte{1}, func(err error) {
		called.Store(true)
		close(done)
	})
	s.Get(context.Background(), 0, &ReadOptions{Offset: -1}, func([]byte, error) {})

	assert.False(t, called.Load())
	close(block)
	<-done
	assert.True(t, called.Load())
}

func TestGetNeverWritten(t *testing.T) {
	s := newTestStore(t, 4, memstore.New(), nil)
	_, err := s.GetSync(testContext(t), 123, nil)
	assert.ErrorIs(t, err, ErrIndexNotFound)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "get", serr.Op)
	assert.Equal(t, 123, serr.Index)
}

func TestPutOverwrites(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t, 2, memstore.New(), nil)

	require.NoError(t, s.PutSync(ctx, 0, []byte{1, 1}))
	require.NoError(t, s.PutSync(ctx, 0, []byte{2, 2}))

	got, err := s.GetSync(ctx, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 2}, got)
}

func TestPutCopiesInput(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t, 2, memstore.New(), nil)

	buf := []byte{5, 6}
	done := make(chan error, 1)
	s.Put(ctx, 0, buf, func(err error) { done <- err })
	buf[0] = 9
	require.NoError(t, awaitError(t, done))

	got, err := s.GetSync(ctx, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6}, got)
}

func TestGetRanges(t *testing.T) {
	ctx := testContext(t)
	d := memstore.New()
	s := newTestStore(t, 4, d, nil)
	require.NoError(t, s.PutSync(ctx, 0, []byte{1, 2, 3, 4}))

	tests := []struct {
		name string
		opts ReadOptions
		want []byte
		err  error
	}{
		{"whole by default", ReadOptions{}, []byte{1, 2, 3, 4}, nil},
		{"offset only", ReadOptions{Offset: 2}, []byte{3, 4}, nil},
		{"offset and length", ReadOptions{Offset: 1, Length: 2}, []byte{2, 3}, nil},
		{"length only", ReadOptions{Length: 3}, []byte{1, 2, 3}, nil},
		{"offset at end", ReadOptions{Offset: 4}, []byte{}, nil},
		{"offset past end", ReadOptions{Offset: 5}, nil, ErrInvalidRange},
		{"length past end", ReadOptions{Offset: 2, Length: 3}, nil, ErrInvalidRange},
		{"negative offset", ReadOptions{Offset: -1}, nil, ErrInvalidRange},
		{"negative length", ReadOptions{Length: -1}, nil, ErrInvalidRange},
		{"length overflowing int", ReadOptions{Offset: 1, Length: math.MaxInt}, nil, ErrInvalidRange},
		{"offset and length both huge", ReadOptions{Offset: math.MaxInt, Length: math.MaxInt}, nil, ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			got, err := s.GetSync(ctx, 0, &opts)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// Negative ranges are rejected without a transaction.
	assert.Len(t, d.CallsOf(memstore.OpGet), 9)
}

func TestCloseTwice(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t, 4, memstore.New(), nil)

	require.NoError(t, s.CloseSync(ctx))
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.CloseSync(ctx), ErrAlreadyClosed)
}

func TestCloseReleasesBackend(t *testing.T) {
	ctx := testContext(t)
	d := memstore.New()
	s := newTestStore(t, 4, d, nil)
	require.NoError(t, s.PutSync(ctx, 0, []byte{1, 2, 3, 4}))

	require.NoError(t, s.CloseSync(ctx))
	assert.Len(t, d.CallsOf(memstore.OpClose), 1)

	select {
	case <-s.events.Done():
	case <-time.After(waitFor):
		t.Fatal("event loop still running after close")
	}
	select {
	case <-s.io.Done():
	case <-time.After(waitFor):
		t.Fatal("io loop still running after close")
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	ctx := testContext(t)
	d := memstore.New()
	s := newTestStore(t, 4, d, nil)
	require.NoError(t, s.CloseSync(ctx))

	err := s.PutSync(ctx, 0, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = s.GetSync(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrStorageClosed)

	assert.Empty(t, d.CallsOf(memstore.OpPut))
	assert.Empty(t, d.CallsOf(memstore.OpGet))
}

func TestLateCallbacksRunAfterLoopsStop(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t, 1, memstore.New(), nil)
	require.NoError(t, s.CloseSync(ctx))
	<-s.events.Done()
	<-s.io.Done()

	// Unbuffered: a callback run inline would deadlock here instead of
	// being received below.
	results := make(chan error)
	for i := 0; i < 10; i++ {
		s.Put(ctx, i, []byte{1}, func(err error) { results <- err })
		s.Get(ctx, i, nil, func(_ []byte, err error) { results <- err })
	}
	for i := 0; i < 20; i++ {
		assert.ErrorIs(t, awaitError(t, results), ErrStorageClosed)
	}
}

func TestInFlightOperationsFinishBeforeClose(t *testing.T) {
	ctx := testContext(t)
	d := memstore.New()
	s := newTestStore(t, 1, d, nil)

	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		s.Put(ctx, i, []byte{byte(i)}, func(err error) { results <- err })
	}
	require.NoError(t, s.CloseSync(ctx))
	for i := 0; i < 10; i++ {
		err := awaitError(t, results)
		if err != nil {
			// Puts issued before the store settled may lose the race with
			// Close, but then they must report it.
			assert.ErrorIs(t, err, ErrStorageClosed)
		}
	}

	// When Close wins the race with the open, the handle is released after
	// CloseSync has already returned.
	require.Eventually(t, func() bool {
		calls := d.Calls()
		return calls[len(calls)-1].Op == memstore.OpClose
	}, waitFor, 5*time.Millisecond)
}

func TestCloseWhileOpeningDrainsQueue(t *testing.T) {
	d := memstore.New()
	release := d.Hold()
	s := newTestStore(t, 4, d, nil)

	put := make(chan error, 1)
	get := make(chan error, 1)
	s.Put(context.Background(), 0, []byte{1, 2, 3, 4}, func(err error) { put <- err })
	s.Get(context.Background(), 0, nil, func(_ []byte, err error) { get <- err })

	closed := make(chan error, 1)
	s.Close(func(err error) { closed <- err })

	require.NoError(t, awaitError(t, closed))
	assert.ErrorIs(t, awaitError(t, put), ErrStorageClosed)
	assert.ErrorIs(t, awaitError(t, get), ErrStorageClosed)
	assert.Equal(t, StateClosed, s.State())

	release()
	require.Eventually(t, func() bool {
		return len(d.CallsOf(memstore.OpClose)) == 1
	}, waitFor, 5*time.Millisecond, "handle opened after close must be released")
	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, d.CallsOf(memstore.OpPut))
}

func TestOpenFailure(t *testing.T) {
	d := memstore.New()
	boom := errors.New("disk on fire")
	d.FailOpen(boom)
	release := d.Hold()
	s := newTestStore(t, 4, d, nil)

	queued := make(chan error, 1)
	s.Put(context.Background(), 0, []byte{1, 2, 3, 4}, func(err error) { queued <- err })
	release()

	err := awaitError(t, queued)
	assert.ErrorIs(t, err, ErrBackendOpenFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, s.State())

	ctx := testContext(t)
	_, err = s.GetSync(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrBackendOpenFailed)

	require.NoError(t, s.CloseSync(ctx))
	_, err = s.GetSync(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrStorageClosed)
}

func TestBackendErrorPropagates(t *testing.T) {
	ctx := testContext(t)
	d := memstore.New()
	s := newTestStore(t, 4, d, nil)
	require.NoError(t, s.PutSync(ctx, 0, []byte{1, 2, 3, 4}))

	boom := errors.New("transaction aborted")
	d.FailTransactions(boom)

	err := s.PutSync(ctx, 0, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrBackendError)
	assert.ErrorIs(t, err, boom)

	_, err = s.GetSync(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrBackendError)
	assert.ErrorIs(t, err, boom)
}

func TestCanceledContextSkipsBackend(t *testing.T) {
	d := memstore.New()
	s := newTestStore(t, 4, d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	s.Put(ctx, 0, []byte{1, 2, 3, 4}, func(err error) { done <- err })
	err := awaitError(t, done)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.CallsOf(memstore.OpPut))
}

func TestDestroyAfterCloseStillDeletes(t *testing.T) {
	ctx := testContext(t)
	d := memstore.New()
	s := newTestStore(t, 4, d, nil)
	require.NoError(t, s.CloseSync(ctx))

	err := s.DestroySync(ctx)
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	deletes := d.CallsOf(memstore.OpDelete)
	require.Len(t, deletes, 1)
	assert.Equal(t, s.Name(), deletes[0].Name)
	assert.Equal(t, StateDestroyed, s.State())
}

func TestDestroyRemovesData(t *testing.T) {
	ctx := testContext(t)
	d := memstore.New()
	s := newTestStore(t, 4, d, NewNamer("reused"))
	require.NoError(t, s.PutSync(ctx, 0, []byte{1, 2, 3, 4}))

	require.NoError(t, s.DestroySync(ctx))
	assert.Equal(t, StateDestroyed, s.State())
	assert.False(t, d.Exists("reused"))

	again := newTestStore(t, 4, d, NewNamer("reused"))
	_, err := again.GetSync(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrIndexNotFound)

	assert.ErrorIs(t, s.DestroySync(ctx), ErrAlreadyClosed)
	assert.Len(t, d.CallsOf(memstore.OpDelete), 2)
}

func TestDestroyWhileOpening(t *testing.T) {
	ctx := testContext(t)
	d := memstore.New()
	release := d.Hold()
	s := newTestStore(t, 4, d, nil)

	done := make(chan error, 1)
	s.Destroy(func(err error) { done <- err })
	release()

	require.NoError(t, awaitError(t, done))
	assert.Equal(t, StateDestroyed, s.State())

	calls := d.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, memstore.OpDelete, calls[len(calls)-1].Op, "delete must follow the release of the late handle")
	assert.ErrorIs(t, s.PutSync(ctx, 0, []byte{1, 2, 3, 4}), ErrStorageClosed)
}

func TestStoresAreNamespaced(t *testing.T) {
	ctx := testContext(t)
	d := memstore.New()
	namer := NewNamer("ns")
	a := newTestStore(t, 1, d, namer)
	b := newTestStore(t, 1, d, namer)

	assert.Equal(t, "ns", a.Name())
	assert.Equal(t, "ns_1", b.Name())
	assert.NotEqual(t, a.ID(), b.ID())

	require.NoError(t, a.PutSync(ctx, 0, []byte{1}))
	_, err := b.GetSync(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestDefaultNamerIsProcessWide(t *testing.T) {
	a, err := New(1, Options{Driver: memstore.New()})
	require.NoError(t, err)
	defer a.Close(nil)
	b, err := New(1, Options{Driver: memstore.New()})
	require.NoError(t, err)
	defer b.Close(nil)

	assert.Greater(t, b.Ordinal(), a.Ordinal())
	assert.Equal(t, DatabaseName(DefaultBaseName, b.Ordinal()), b.Name())
}

func TestNilCallbacksAreAllowed(t *testing.T) {
	ctx := testContext(t)
	s := newTestStore(t, 1, memstore.New(), nil)
	s.Put(ctx, 0, []byte{1}, nil)
	s.Get(ctx, 0, nil, nil)

	got, err := s.GetSync(ctx, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got)
}
