// Package contractcache implements the Contract Cache (C2): an LRU+TTL
// in-memory map of contract id to tick size/value/name, persisted to the
// durable store and lazily fetched through the brokerage client
// (SPEC_FULL.md §4.5).
//
// Mechanics are grounded on original_source/src/core/contract_cache.py's
// OrderedDict-based LRU; Go idiom swaps the OrderedDict for container/list
// plus a map for O(1) LRU operations (no pack example ships a third-party
// LRU library, so this is a deliberate, documented stdlib choice).
package contractcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/rs/zerolog"
)

// Fetcher resolves contract metadata through the brokerage REST client
// (§6: getContractById).
type Fetcher interface {
	GetContractByID(ctx context.Context, contractID string) (domain.Contract, error)
}

// Persister is the subset of the durable store the cache writes through to.
type Persister interface {
	SaveContract(domain.Contract) error
	LoadContracts(limit int) ([]domain.Contract, error)
}

type entry struct {
	contract domain.Contract
	elem     *list.Element
}

// Cache is the LRU+TTL contract cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently used
	maxSize int
	ttl     time.Duration

	fetcher Fetcher
	store   Persister
	log     zerolog.Logger
}

// New constructs a Cache and warms it from the durable store (§4.5: "on
// process start, the cache is warmed from the store up to maxSize").
func New(maxSize int, ttl time.Duration, fetcher Fetcher, store Persister, log zerolog.Logger) (*Cache, error) {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		fetcher: fetcher,
		store:   store,
		log:     log,
	}
	if store != nil {
		contracts, err := store.LoadContracts(maxSize)
		if err != nil {
			return nil, err
		}
		for _, ct := range contracts {
			c.insertLocked(ct)
		}
	}
	return c, nil
}

// Get returns the cached metadata for a contract, fetching and persisting it
// on a cold or TTL-expired entry. Returns ok=false if the fetch fails — per
// §4.5, callers must handle this by skipping price-dependent computation.
func (c *Cache) Get(ctx context.Context, contractID string) (domain.Contract, bool) {
	c.mu.Lock()
	e, found := c.entries[contractID]
	if found && time.Since(e.contract.CachedAt) <= c.ttl {
		c.order.MoveToFront(e.elem)
		ct := e.contract
		c.mu.Unlock()
		return ct, true
	}
	c.mu.Unlock()

	if c.fetcher == nil {
		return domain.Contract{}, false
	}
	ct, err := c.fetcher.GetContractByID(ctx, contractID)
	if err != nil {
		c.log.Error().Err(err).Str("contractId", contractID).Msg("contract metadata fetch failed")
		return domain.Contract{}, false
	}
	ct.CachedAt = time.Now()

	c.mu.Lock()
	c.insertLocked(ct)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveContract(ct); err != nil {
			c.log.Error().Err(err).Str("contractId", contractID).Msg("failed to persist contract cache entry")
		}
	}
	return ct, true
}

// insertLocked inserts/updates an entry and evicts LRU entries over
// capacity. Caller must hold c.mu.
func (c *Cache) insertLocked(ct domain.Contract) {
	if e, ok := c.entries[ct.ID]; ok {
		e.contract = ct
		c.order.MoveToFront(e.elem)
		return
	}
	elem := c.order.PushFront(ct.ID)
	c.entries[ct.ID] = &entry{contract: ct, elem: elem}

	for c.order.Len() > c.maxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		evictID := back.Value.(string)
		c.order.Remove(back)
		delete(c.entries, evictID)
	}
}

// Len reports the number of currently cached contracts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
