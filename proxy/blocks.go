package proxy

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dominant-strategies/go-merge-mining-proxy/chain"
	"github.com/dominant-strategies/go-merge-mining-proxy/monero"
)

// BlockTemplate is an issued template: the foreign block committing to
// this chain's candidate, and the candidate itself.
type BlockTemplate struct {
	// Key is the merge mining hash in hex. Submitted blobs are matched to
	// their template through it.
	Key     string
	Session string

	Block     *chain.Block
	MinerData *chain.MinerData

	PrevID   monero.Hash
	Height   uint64
	SeedHash monero.Hash
	Reply    *templateReply
	Created  time.Time

	submitted atomic.Bool
}

// templateCache holds issued templates by key and remembers the newest
// template of every session. Both maps expire entries on their own.
type templateCache struct {
	templates *lru.LRU[string, *BlockTemplate]
	sessions  *lru.LRU[string, string]
}

// newTemplateCache sizes the two maps separately: every miner needs a
// session entry, while sessions on the same tip share one template.
func newTemplateCache(templates, sessions int, ttl time.Duration) *templateCache {
	return &templateCache{
		templates: lru.NewLRU[string, *BlockTemplate](templates, nil, ttl),
		sessions:  lru.NewLRU[string, string](sessions, nil, ttl),
	}
}

// put stores t and makes it the current template of its session. A
// template replacing one with the same key inherits its submitted state,
// since both seal the same candidate.
func (c *templateCache) put(t *BlockTemplate) {
	if prev, ok := c.templates.Peek(t.Key); ok && prev.submitted.Load() {
		t.submitted.Store(true)
	}
	c.templates.Add(t.Key, t)
	c.sessions.Add(t.Session, t.Key)
}

// lookup finds the template for key and checks that it is still the newest
// one of its session.
func (c *templateCache) lookup(key string) (*BlockTemplate, error) {
	t, ok := c.templates.Get(key)
	if !ok {
		return nil, ErrTemplateNotFound
	}
	current, ok := c.sessions.Get(t.Session)
	if !ok || current != t.Key {
		return nil, ErrStaleTemplate
	}
	return t, nil
}

func (c *templateCache) len() int {
	return c.templates.Len()
}

// tipTemplate is a base node template that already pays the coinbase,
// ready to be completed by GetNewBlock.
type tipTemplate struct {
	template  *chain.NewBlockTemplate
	minerData *chain.MinerData
}

// tipCache keeps one tipTemplate per best block hash so the wallet builds
// a single coinbase per tip.
type tipCache struct {
	entries *lru.LRU[string, *tipTemplate]
}

func newTipCache(size int, ttl time.Duration) *tipCache {
	return &tipCache{entries: lru.NewLRU[string, *tipTemplate](size, nil, ttl)}
}

func (c *tipCache) get(tip string) (*tipTemplate, bool) {
	return c.entries.Get(tip)
}

// add keeps the first template stored for tip.
func (c *tipCache) add(tip string, t *tipTemplate) *tipTemplate {
	if prev, ok := c.entries.Get(tip); ok {
		return prev
	}
	c.entries.Add(tip, t)
	return t
}

func (c *tipCache) remove(tip string) {
	c.entries.Remove(tip)
}
