package proxy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dominant-strategies/go-merge-mining-proxy/chain"
)

func TestTemplateCacheSessionsOutliveTemplateCap(t *testing.T) {
	c := newTemplateCache(2, 64, time.Minute)

	// Many sessions share the same two templates.
	for i := 0; i < 40; i++ {
		c.put(&BlockTemplate{Key: fmt.Sprintf("k%d", i%2), Session: fmt.Sprintf("miner-%d", i)})
	}
	assert.Equal(t, 2, c.len())
	assert.Equal(t, 40, c.sessions.Len())

	// The last writer of k0 still owns it.
	_, err := c.lookup("k0")
	assert.NoError(t, err)
}

func TestTemplateCacheStaleAndMissing(t *testing.T) {
	c := newTemplateCache(8, 8, time.Minute)
	c.put(&BlockTemplate{Key: "a", Session: "s"})
	c.put(&BlockTemplate{Key: "b", Session: "s"})

	_, err := c.lookup("a")
	assert.ErrorIs(t, err, ErrStaleTemplate)
	_, err = c.lookup("b")
	assert.NoError(t, err)
	_, err = c.lookup("c")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestTemplateCacheKeepsSubmittedState(t *testing.T) {
	c := newTemplateCache(8, 8, time.Minute)
	first := &BlockTemplate{Key: "a", Session: "s1"}
	c.put(first)
	require.True(t, first.submitted.CompareAndSwap(false, true))

	second := &BlockTemplate{Key: "a", Session: "s2"}
	c.put(second)
	assert.True(t, second.submitted.Load())
}

func TestTipCacheKeepsFirstEntry(t *testing.T) {
	c := newTipCache(2, time.Minute)
	first := &tipTemplate{minerData: &chain.MinerData{Reward: 1}}
	assert.Same(t, first, c.add("tip", first))
	assert.Same(t, first, c.add("tip", &tipTemplate{minerData: &chain.MinerData{Reward: 2}}))

	got, ok := c.get("tip")
	require.True(t, ok)
	assert.Same(t, first, got)

	c.remove("tip")
	_, ok = c.get("tip")
	assert.False(t, ok)
}
