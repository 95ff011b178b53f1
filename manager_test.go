package gqlpipe

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spyCache struct {
	*InMemoryCache
	restores int32
}

func (c *spyCache) Restore(snapshot Snapshot) {
	atomic.AddInt32(&c.restores, 1)
	c.InMemoryCache.Restore(snapshot)
}

type cacheRecorder struct {
	mu     sync.Mutex
	caches []*spyCache
}

func (r *cacheRecorder) newCache() Cache {
	c := &spyCache{InMemoryCache: NewInMemoryCache()}
	r.mu.Lock()
	r.caches = append(r.caches, c)
	r.mu.Unlock()
	return c
}

func TestManagerBrowserRetainsInstance(t *testing.T) {
	m := NewManager(Config{})
	assert.Nil(t, m.Retained())

	first, err := m.Initialize(ModeBrowser, nil)
	require.NoError(t, err)
	second, err := m.Initialize(ModeBrowser, nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, m.Retained())
}

func TestManagerBrowserConcurrentInitialize(t *testing.T) {
	rec := &cacheRecorder{}
	m := NewManager(Config{}, WithCache(rec.newCache))

	var wg sync.WaitGroup
	clients := make([]*Client, 8)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Initialize(ModeBrowser, nil)
			assert.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}
	assert.Len(t, rec.caches, 1)
}

func TestManagerServerNeverRetains(t *testing.T) {
	m := NewManager(Config{})

	first, err := m.Initialize(ModeServer, nil)
	require.NoError(t, err)
	second, err := m.Initialize(ModeServer, nil)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Nil(t, m.Retained())
	assert.True(t, first.SSRMode())

	browser, err := m.Initialize(ModeBrowser, nil)
	require.NoError(t, err)
	third, err := m.Initialize(ModeServer, nil)
	require.NoError(t, err)
	assert.NotSame(t, browser, third)
}

func TestManagerRestoresSnapshotOnce(t *testing.T) {
	rec := &cacheRecorder{}
	m := NewManager(Config{}, WithCache(rec.newCache))
	snapshot := Snapshot{"query Hello { hello }|{}": json.RawMessage(`{"hello":"world"}`)}

	client, err := m.Initialize(ModeServer, &snapshot)
	require.NoError(t, err)
	require.Len(t, rec.caches, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.caches[0].restores))
	assert.Equal(t, snapshot, client.Cache().Extract())

	var out map[string]string
	require.NoError(t, client.Execute(context.Background(), `query Hello { hello }`, nil, &out))
	assert.Equal(t, "world", out["hello"])

	_, err = m.Initialize(ModeServer, nil)
	require.NoError(t, err)
	require.Len(t, rec.caches, 2)
	assert.Zero(t, atomic.LoadInt32(&rec.caches[1].restores))
}

func TestManagerRestoresIntoRetainedInstance(t *testing.T) {
	rec := &cacheRecorder{}
	m := NewManager(Config{}, WithCache(rec.newCache))

	first, err := m.Initialize(ModeBrowser, nil)
	require.NoError(t, err)

	snapshot := Snapshot{"k": json.RawMessage(`1`)}
	second, err := m.Initialize(ModeBrowser, &snapshot)
	require.NoError(t, err)

	assert.Same(t, first, second)
	require.Len(t, rec.caches, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.caches[0].restores))
	data, ok := second.Cache().Read("k")
	assert.True(t, ok)
	assert.Equal(t, json.RawMessage(`1`), data)
}

func TestManagerConstructionError(t *testing.T) {
	m := NewManager(Config{HTTPEndpoint: "ftp://example.com"})
	_, err := m.Initialize(ModeBrowser, nil)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	assert.Nil(t, m.Retained())

	_, err = m.Initialize(ModeServer, nil)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestAccessorRederivesOnSnapshotChange(t *testing.T) {
	rec := &cacheRecorder{}
	a := NewAccessor(NewManager(Config{}, WithCache(rec.newCache)), ModeServer)

	s1 := Snapshot{"a": json.RawMessage(`1`)}
	s2 := Snapshot{"a": json.RawMessage(`1`)}

	first, err := a.Use(&s1)
	require.NoError(t, err)
	again, err := a.Use(&s1)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Len(t, rec.caches, 1)

	other, err := a.Use(&s2)
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Len(t, rec.caches, 2)

	none, err := a.Use(nil)
	require.NoError(t, err)
	assert.NotSame(t, other, none)
}
