package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	m := NewMemoryStore()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.AppendConversation(context.Background(), ConversationRecord{UserID: int64(i % 2), Role: RoleUser})
		}()
	}
	wg.Wait()

	require.Len(t, m.All(), 50)
	got, err := m.Conversations(context.Background(), 0, MaxLimit)
	require.NoError(t, err)
	require.Len(t, got, 25)
}

func TestMemoryStore_ConversationsNewestFirstAndLimited(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, m.AppendConversation(ctx, ConversationRecord{UserID: 1, Message: msg}))
	}
	got, err := m.Conversations(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].Message)
	require.Equal(t, "b", got[1].Message)
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, ClampLimit(0))
	require.Equal(t, DefaultLimit, ClampLimit(-3))
	require.Equal(t, 7, ClampLimit(7))
	require.Equal(t, MaxLimit, ClampLimit(1000))
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	u := Unavailable{Cause: cause}

	_, err := u.Progress(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, u.AppendConversation(context.Background(), ConversationRecord{}), ErrUnavailable)
	require.NoError(t, u.Close())
}

type countingStore struct {
	*MemoryStore
	progressCalls int
}

func (c *countingStore) Progress(ctx context.Context, userID int64) ([]Progress, error) {
	c.progressCalls++
	return c.MemoryStore.Progress(ctx, userID)
}

func TestCached_ProgressInvalidatedOnLearning(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	c := NewCached(inner, time.Minute)

	first, err := c.Progress(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, first)
	_, err = c.Progress(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, inner.progressCalls)

	require.NoError(t, c.RecordLearning(ctx, 1, "Data Structures", "Lists"))

	after, err := c.Progress(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, inner.progressCalls)
	require.Equal(t, []Progress{{UserID: 1, Module: "Data Structures", Topic: "Lists", Mastery: MasteryStep}}, after)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	c := NewCached(Unavailable{}, time.Minute)
	_, err := c.Progress(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnavailable)
	_, found := c.progress.Get(progressCacheKey(1))
	require.False(t, found)
}

func TestCached_ProgressReturnsCopy(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.RecordLearning(ctx, 1, "Loops", "For Loops"))
	c := NewCached(inner, time.Minute)

	first, err := c.Progress(ctx, 1)
	require.NoError(t, err)
	first[0].Mastery = 99

	second, err := c.Progress(ctx, 1)
	require.NoError(t, err)
	second[0].Topic = "changed"

	third, err := c.Progress(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []Progress{{UserID: 1, Module: "Loops", Topic: "For Loops", Mastery: MasteryStep}}, third)
}

// slowStore takes its snapshot, then waits for release before returning it.
type slowStore struct {
	*MemoryStore
	started chan struct{}
	release chan struct{}
}

func (s *slowStore) Progress(ctx context.Context, userID int64) ([]Progress, error) {
	out, err := s.MemoryStore.Progress(ctx, userID)
	if s.started != nil {
		close(s.started)
		s.started = nil
		<-s.release
	}
	return out, err
}

func TestCached_ReadOverlappingWriteIsNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &slowStore{MemoryStore: NewMemoryStore(), started: make(chan struct{}), release: make(chan struct{})}
	started := inner.started
	c := NewCached(inner, time.Minute)

	done := make(chan []Progress)
	go func() {
		out, err := c.Progress(ctx, 1)
		assert.NoError(t, err)
		done <- out
	}()

	<-started
	require.NoError(t, c.RecordLearning(ctx, 1, "Loops", "For Loops"))
	close(inner.release)
	require.Empty(t, <-done)

	fresh, err := c.Progress(ctx, 1)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Equal(t, MasteryStep, fresh[0].Mastery)
}
