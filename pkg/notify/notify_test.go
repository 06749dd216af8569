package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kittclouds/convstore/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{store.ErrStoreNotReady, KindNotReady},
		{fmt.Errorf("%w: disk", store.ErrStoreUnavailable), KindUnavailable},
		{fmt.Errorf("chat 3: %w", store.ErrNotFound), KindNotFound},
		{fmt.Errorf("%w: bad role", store.ErrInvalidInput), KindInvalid},
		{fmt.Errorf("insert: %w", store.ErrStorageFault), KindFault},
		{context.Canceled, KindCanceled},
		{errors.New("other"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
	assert.True(t, KindNotReady.Transient())
	assert.False(t, KindFault.Transient())
}

func TestFailureCarriesRetry(t *testing.T) {
	calls := 0
	n := Failure("create chat", store.ErrStoreNotReady, func(context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, LevelError, n.Level)
	assert.Equal(t, KindNotReady, n.Kind)
	assert.Contains(t, n.Message, "still loading")
	assert.NotEqual(t, n.ID, Failure("x", nil, nil).ID)
	require.True(t, n.Retryable())
	require.NoError(t, n.Retry(context.Background()))
	assert.Equal(t, 1, calls)

	ok := Success("create chat", "Chat created")
	assert.Equal(t, LevelSuccess, ok.Level)
	assert.False(t, ok.Retryable())
}

type panicNotifier struct{}

func (panicNotifier) Notify(Notification) { panic("toast failed") }

func TestDeliverRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	assert.False(t, Deliver(panicNotifier{}, Success("op", "msg"), log))
	assert.Contains(t, buf.String(), "notifier panicked")

	rec := NewRecorder(0)
	assert.True(t, Deliver(rec, Success("op", "msg"), log))
	assert.Len(t, rec.All(), 1)

	assert.False(t, Deliver(nil, Success("op", "msg"), log))
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder(2)
	first := Success("a", "1")
	rec.Notify(first)
	rec.Notify(Success("b", "2"))
	third := Failure("c", store.ErrNotFound, nil)
	rec.Notify(third)

	all := rec.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Operation)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, third.ID, last.ID)

	_, ok = rec.Find(first.ID)
	assert.False(t, ok, "evicted by limit")
	found, ok := rec.Find(third.ID)
	require.True(t, ok)
	assert.Equal(t, "c", found.Operation)

	rec.Reset()
	_, ok = rec.Last()
	assert.False(t, ok)
}

func TestLogNotifierAndMulti(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(0)
	m := Multi{NewLogNotifier(zerolog.New(&buf)), rec}

	m.Notify(Failure("delete chat", store.ErrNotFound, nil))
	assert.Contains(t, buf.String(), `"operation":"delete chat"`)
	assert.Contains(t, buf.String(), `"kind":"not_found"`)
	assert.Len(t, rec.All(), 1)
}

func TestRetrierRetriesOnlyNotReady(t *testing.T) {
	r := NewRetrier(RetryConfig{InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}, zerolog.Nop())
	ctx := context.Background()

	attempts := 0
	err := r.Do(ctx, "list chats", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return store.ErrStoreNotReady
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = r.Do(ctx, "get chat", func(context.Context) error {
		attempts++
		return fmt.Errorf("chat 1: %w", store.ErrNotFound)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = r.Do(ctx, "get chat", func(context.Context) error {
		attempts++
		return store.ErrStoreUnavailable
	})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Equal(t, 1, attempts)
}

func TestRetrierGivesUp(t *testing.T) {
	r := NewRetrier(RetryConfig{InitialInterval: time.Millisecond, MaxElapsedTime: 20 * time.Millisecond}, zerolog.Nop())
	err := r.Do(context.Background(), "op", func(context.Context) error {
		return store.ErrStoreNotReady
	})
	assert.ErrorIs(t, err, store.ErrStoreNotReady)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.Do(ctx, "op", func(context.Context) error { return store.ErrStoreNotReady })
	assert.Error(t, err)
}

func TestRetrierWrap(t *testing.T) {
	r := NewRetrier(RetryConfig{}, zerolog.Nop())
	assert.Nil(t, r.Wrap("op", nil))

	calls := 0
	wrapped := r.Wrap("op", func(context.Context) error { calls++; return nil })
	require.NoError(t, wrapped(context.Background()))
	assert.Equal(t, 1, calls)
}
