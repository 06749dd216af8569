package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() *Cache {
	return New(time.Minute, time.Minute)
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "messages[12]", Messages(12).String())
	assert.Equal(t, "chats[u1]", Chats("u1").String())
	assert.Equal(t, "chat[3]", Chat(3).String())
	assert.Equal(t, "message[9]", Message(9).String())
	assert.Equal(t, "messages", All(KindMessages).String())
}

func TestScopeCovers(t *testing.T) {
	assert.True(t, All(KindMessages).Covers(Messages(1)))
	assert.True(t, All(KindMessages).Covers(All(KindMessages)))
	assert.True(t, Messages(1).Covers(Messages(1)))
	assert.False(t, Messages(1).Covers(Messages(2)))
	assert.False(t, All(KindMessages).Covers(Message(1)))
}

func TestLoadCachesValue(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	calls := 0
	loader := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}

	v, err := Load(ctx, c, Chat(1), loader)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = Load(ctx, c, Chat(1), loader)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)
}

func TestLoadNeverCachesErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	boom := errors.New("boom")

	_, err := Load(ctx, c, Chat(1), func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(Chat(1))
	assert.False(t, ok)

	v, err := Load(ctx, c, Chat(1), func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestInvalidateExactScope(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	for _, s := range []Scope{Messages(1), Messages(2), Message(1)} {
		_, err := Load(ctx, c, s, func(context.Context) (string, error) { return s.String(), nil })
		require.NoError(t, err)
	}

	c.Invalidate(Messages(1))

	_, ok := c.Get(Messages(1))
	assert.False(t, ok)
	_, ok = c.Get(Messages(2))
	assert.True(t, ok)
	_, ok = c.Get(Message(1))
	assert.True(t, ok)
}

func TestInvalidateWholeKind(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	for _, s := range []Scope{All(KindMessages), Messages(1), Messages(2), Message(1), Chats("u")} {
		_, err := Load(ctx, c, s, func(context.Context) (string, error) { return s.String(), nil })
		require.NoError(t, err)
	}

	c.Invalidate(All(KindMessages))

	for _, s := range []Scope{All(KindMessages), Messages(1), Messages(2)} {
		_, ok := c.Get(s)
		assert.False(t, ok, s.String())
	}
	// "message[1]" shares the prefix "message" but not "messages[".
	_, ok := c.Get(Message(1))
	assert.True(t, ok)
	_, ok = c.Get(Chats("u"))
	assert.True(t, ok)
}

func TestLoadRacingInvalidationIsNotStored(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()

	v, err := Load(ctx, c, Messages(1), func(context.Context) (string, error) {
		// A mutation lands while the read is in flight.
		c.Invalidate(Messages(1))
		return "stale", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", v)

	_, ok := c.Get(Messages(1))
	assert.False(t, ok)
}

func TestLoadCollapsesConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]int, n)
	var started sync.WaitGroup
	started.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			v, err := Load(ctx, c, Chat(5), loader)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.LessOrEqual(t, calls.Load(), int32(n))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestFlush(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	_, err := Load(ctx, c, Chat(1), func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	c.Flush()
	assert.Zero(t, c.Len())
}
