package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/classhall/standings/pkg/leaderboard"
)

// mockBackend is an in-memory Backend for testing
type mockBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	setErr  error
	deletes []string
}

func newMockBackend() *mockBackend {
	return &mockBackend{data: map[string][]byte{}}
}

func (m *mockBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	raw, ok := m.data[key]
	return raw, ok, nil
}

func (m *mockBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *mockBackend) DeleteByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

// mockSource is a mock Source for testing
type mockSource struct {
	mu    sync.Mutex
	calls int
	snap  *leaderboard.Snapshot
	err   error
}

func (m *mockSource) GetOrBuild(_ context.Context, _ leaderboard.PartitionKey) (*leaderboard.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.snap, m.err
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func snapshotOf(gen uint64, ids ...string) *leaderboard.Snapshot {
	entries := make([]leaderboard.RankedEntry, 0, len(ids))
	for i, id := range ids {
		entries = append(entries, leaderboard.RankedEntry{ParticipantID: id, Rank: i + 1})
	}
	return &leaderboard.Snapshot{
		ScopeType:         leaderboard.ScopeClass,
		ScopeID:           "math-7b",
		Granularity:       leaderboard.Weekly,
		Generation:        gen,
		GeneratedAt:       time.Now().UTC(),
		Entries:           entries,
		TotalParticipants: len(entries),
	}
}

func cacheKey() leaderboard.PartitionKey {
	return leaderboard.PartitionKey{
		ScopeType:   leaderboard.ScopeClass,
		ScopeID:     "math-7b",
		Granularity: leaderboard.Weekly,
	}
}

func TestMissThenHit(t *testing.T) {
	backend := newMockBackend()
	source := &mockSource{snap: snapshotOf(1, "a", "b", "c")}
	c := New(backend, source, zaptest.NewLogger(t))

	page, err := c.GetPage(context.Background(), cacheKey(), 0, 2)
	require.NoError(t, err)
	assert.False(t, page.Hit)
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, 3, page.TotalParticipants)
	assert.Equal(t, uint64(1), page.Generation)

	again, err := c.GetPage(context.Background(), cacheKey(), 0, 2)
	require.NoError(t, err)
	assert.True(t, again.Hit)
	assert.Equal(t, page.Entries, again.Entries)
	assert.Equal(t, 1, source.callCount())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestPagesCachedIndependently(t *testing.T) {
	backend := newMockBackend()
	source := &mockSource{snap: snapshotOf(1, "a", "b", "c", "d")}
	c := New(backend, source, zaptest.NewLogger(t))

	first, err := c.GetPage(context.Background(), cacheKey(), 0, 2)
	require.NoError(t, err)
	second, err := c.GetPage(context.Background(), cacheKey(), 2, 2)
	require.NoError(t, err)

	assert.Equal(t, "a", first.Entries[0].ParticipantID)
	assert.Equal(t, "c", second.Entries[0].ParticipantID)
	assert.Equal(t, 2, source.callCount())
}

// TestDegradedBackend verifies a broken backend falls through to the source
// without surfacing an error to the caller.
func TestDegradedBackend(t *testing.T) {
	backend := newMockBackend()
	backend.getErr = errors.New("connection refused")
	source := &mockSource{snap: snapshotOf(1, "a")}
	c := New(backend, source, zaptest.NewLogger(t))

	page, err := c.GetPage(context.Background(), cacheKey(), 0, 10)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
	assert.Equal(t, uint64(1), c.Stats().Degraded)
}

func TestNilBackendIsPassThrough(t *testing.T) {
	source := &mockSource{snap: snapshotOf(1, "a")}
	c := New(nil, source, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		page, err := c.GetPage(context.Background(), cacheKey(), 0, 10)
		require.NoError(t, err)
		assert.Len(t, page.Entries, 1)
	}
	assert.Equal(t, 3, source.callCount())
	assert.Zero(t, c.Stats().Hits)

	// No-ops, must not panic.
	c.InvalidatePartition(context.Background(), cacheKey())
	c.Flush(context.Background())
}

func TestSourceErrorPropagates(t *testing.T) {
	source := &mockSource{err: leaderboard.ErrScopeNotFound}
	c := New(newMockBackend(), source, zaptest.NewLogger(t))

	_, err := c.GetPage(context.Background(), cacheKey(), 0, 10)
	require.ErrorIs(t, err, leaderboard.ErrScopeNotFound)
}

func TestUndecodableEntryTreatedAsMiss(t *testing.T) {
	backend := newMockBackend()
	backend.data[PageKey(cacheKey(), 0, 10)] = []byte("{not json")
	source := &mockSource{snap: snapshotOf(2, "a")}
	c := New(backend, source, zaptest.NewLogger(t))

	page, err := c.GetPage(context.Background(), cacheKey(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Generation)
	assert.Equal(t, 1, source.callCount())
}

// TestInvalidatePartition verifies commit-time eviction removes every page
// of the partition and nothing else.
func TestInvalidatePartition(t *testing.T) {
	backend := newMockBackend()
	source := &mockSource{snap: snapshotOf(1, "a", "b", "c", "d")}
	c := New(backend, source, zaptest.NewLogger(t))

	_, err := c.GetPage(context.Background(), cacheKey(), 0, 2)
	require.NoError(t, err)
	_, err = c.GetPage(context.Background(), cacheKey(), 2, 2)
	require.NoError(t, err)

	otherKey := cacheKey()
	otherKey.Granularity = leaderboard.Daily
	_, err = c.GetPage(context.Background(), otherKey, 0, 2)
	require.NoError(t, err)

	c.InvalidatePartition(context.Background(), cacheKey())

	// Evicted pages rebuild from the source; the other partition still hits.
	source.snap = snapshotOf(2, "a", "b", "c", "d")
	page, err := c.GetPage(context.Background(), cacheKey(), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Generation)

	other, err := c.GetPage(context.Background(), otherKey, 0, 2)
	require.NoError(t, err)
	assert.True(t, other.Hit)
	assert.Equal(t, uint64(1), other.Generation)
}

func TestSetFailureStillServes(t *testing.T) {
	backend := newMockBackend()
	backend.setErr = errors.New("readonly replica")
	source := &mockSource{snap: snapshotOf(1, "a")}
	c := New(backend, source, zaptest.NewLogger(t))

	page, err := c.GetPage(context.Background(), cacheKey(), 0, 10)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
	assert.Equal(t, uint64(1), c.Stats().Degraded)
}

func TestOutOfRangePageIsEmpty(t *testing.T) {
	source := &mockSource{snap: snapshotOf(1, "a", "b")}
	c := New(newMockBackend(), source, zaptest.NewLogger(t))

	page, err := c.GetPage(context.Background(), cacheKey(), 50, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Equal(t, 2, page.TotalParticipants)
}

// generationSnap builds a snapshot whose entries all carry the generation
// number as their point total, so a page mixing generations is detectable.
func generationSnap(gen uint64) *leaderboard.Snapshot {
	entries := make([]leaderboard.RankedEntry, 3)
	for i := range entries {
		entries[i] = leaderboard.RankedEntry{
			ParticipantID: string(rune('a' + i)),
			Rank:          i + 1,
			TotalPoints:   int64(gen),
		}
	}
	return &leaderboard.Snapshot{
		ScopeType:         leaderboard.ScopeClass,
		ScopeID:           "math-7b",
		Granularity:       leaderboard.Weekly,
		Generation:        gen,
		GeneratedAt:       time.Now().UTC(),
		Entries:           entries,
		TotalParticipants: len(entries),
	}
}

// TestConcurrentReadsNeverMixGenerations hammers GetPage while the source
// flips generations and evicts, the way a regeneration commit does. Every
// returned page must be internally consistent: all entries from the
// generation the page reports, never a splice of two.
func TestConcurrentReadsNeverMixGenerations(t *testing.T) {
	backend := newMockBackend()
	source := &mockSource{snap: generationSnap(1)}
	c := New(backend, source, zaptest.NewLogger(t))

	var (
		wg         sync.WaitGroup
		violations sync.Map
	)
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stop)
		for gen := uint64(2); gen <= 50; gen++ {
			source.mu.Lock()
			source.snap = generationSnap(gen)
			source.mu.Unlock()
			c.InvalidatePartition(context.Background(), cacheKey())
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				page, err := c.GetPage(context.Background(), cacheKey(), 0, 3)
				if err != nil {
					violations.Store("error: "+err.Error(), true)
					return
				}
				for _, e := range page.Entries {
					if e.TotalPoints != int64(page.Generation) {
						violations.Store("mixed generations in one page", true)
						return
					}
				}
				if page.TotalParticipants != len(page.Entries) {
					violations.Store("total disagrees with page generation", true)
					return
				}
			}
		}()
	}

	wg.Wait()
	violations.Range(func(k, _ any) bool {
		t.Errorf("page atomicity violated: %v", k)
		return true
	})
}
