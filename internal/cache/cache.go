// Package cache stores previously resolved intents and serves them back
// for inputs that are close enough to the original text.
package cache

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"intent-trader/internal/models"
	"intent-trader/internal/symbols"
)

// Cache is the resolution cache seam. A vector database backed
// implementation can replace SemanticCache without touching callers.
type Cache interface {
	Lookup(ctx context.Context, text string) (*models.TradeIntent, bool)
	Store(ctx context.Context, text string, intent *models.TradeIntent, ttl time.Duration) error
	Warm(ctx context.Context, seeds []Seed) error
}

// Seed is a known (text, intent) pair loaded at startup.
type Seed struct {
	Text   string
	Intent *models.TradeIntent
}

// Config controls matching and expiry.
type Config struct {
	DefaultTTL          time.Duration
	WarmTTL             time.Duration // 0 means warm entries never expire
	SweepInterval       time.Duration
	SimilarityThreshold float64
	MaxEntries          int
}

// DefaultConfig returns the standard cache settings.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:          30 * time.Second,
		SweepInterval:       time.Minute,
		SimilarityThreshold: 0.92,
		MaxEntries:          10000,
	}
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// SemanticCache matches by embedding similarity. A candidate must also
// carry the same signature (action verbs, tickers and numbers) as the
// query, so a paraphrase never changes what gets traded or how much.
type SemanticCache struct {
	cfg      Config
	embedder Embedder
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	entries   map[string]*models.CacheEntry
	hits      int64
	misses    int64
	evictions int64

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a semantic cache.
func New(cfg Config, embedder Embedder, logger zerolog.Logger) *SemanticCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultConfig().SimilarityThreshold
	}
	if embedder == nil {
		embedder = NewHashEmbedder(256)
	}
	return &SemanticCache{
		cfg:      cfg,
		embedder: embedder,
		logger:   logger.With().Str("component", "cache").Logger(),
		now:      time.Now,
		entries:  make(map[string]*models.CacheEntry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Lookup returns a copy of the best matching live entry.
func (c *SemanticCache) Lookup(ctx context.Context, text string) (*models.TradeIntent, bool) {
	key := cacheKey(text)
	if key == "" {
		return nil, false
	}
	now := c.now()

	c.mu.RLock()
	if e, ok := c.entries[key]; ok && !e.Expired(now) {
		intent := e.Intent.Clone()
		c.mu.RUnlock()
		c.record(true)
		return intent, true
	}
	c.mu.RUnlock()

	// Embedding may be a network call; no lock is held across it.
	vec, err := c.embedder.Embed(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("embedding failed, treating as miss")
		c.record(false)
		return nil, false
	}
	sig := Signature(key)

	var (
		best    *models.CacheEntry
		bestSim float64
		expired []string
	)
	c.mu.RLock()
	for k, e := range c.entries {
		if e.Expired(now) {
			expired = append(expired, k)
			continue
		}
		if e.Signature != sig {
			continue
		}
		sim, err := CosineSimilarity(vec, e.Vector)
		if err != nil {
			continue
		}
		if sim >= c.cfg.SimilarityThreshold && sim > bestSim {
			best, bestSim = e, sim
		}
	}
	var intent *models.TradeIntent
	if best != nil {
		intent = best.Intent.Clone()
	}
	c.mu.RUnlock()

	if len(expired) > 0 {
		c.evict(expired, now)
	}
	if intent == nil {
		c.record(false)
		return nil, false
	}
	c.logger.Debug().Str("text", key).Str("matched", best.Text).Float64("similarity", bestSim).Msg("semantic cache hit")
	c.record(true)
	return intent, true
}

// Store replaces any entry for text. ttl <= 0 uses the default TTL.
func (c *SemanticCache) Store(ctx context.Context, text string, intent *models.TradeIntent, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	expires := c.now().Add(ttl)
	return c.put(ctx, text, intent, &expires)
}

// Warm stores seed pairs with the warm TTL.
func (c *SemanticCache) Warm(ctx context.Context, seeds []Seed) error {
	for i, s := range seeds {
		var expires *time.Time
		if c.cfg.WarmTTL > 0 {
			t := c.now().Add(c.cfg.WarmTTL)
			expires = &t
		}
		if err := c.put(ctx, s.Text, s.Intent, expires); err != nil {
			return fmt.Errorf("warm seed %d: %w", i, err)
		}
	}
	c.logger.Info().Int("seeds", len(seeds)).Msg("cache warmed")
	return nil
}

func (c *SemanticCache) put(ctx context.Context, text string, intent *models.TradeIntent, expires *time.Time) error {
	key := cacheKey(text)
	if key == "" {
		return fmt.Errorf("empty cache key")
	}
	if intent == nil {
		return fmt.Errorf("nil intent for %q", key)
	}
	vec, err := c.embedder.Embed(ctx, key)
	if err != nil {
		return fmt.Errorf("embed %q: %w", key, err)
	}
	entry := &models.CacheEntry{
		Key:       key,
		Text:      text,
		Intent:    intent.Clone(),
		Vector:    vec,
		Signature: Signature(key),
		CreatedAt: c.now(),
		ExpiresAt: expires,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && c.cfg.MaxEntries > 0 && len(c.entries) >= c.cfg.MaxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (c *SemanticCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	c.evictions += int64(n)
	return n
}

// Start launches the periodic sweeper. It stops on ctx cancellation or Close.
func (c *SemanticCache) Start(ctx context.Context) {
	if c.cfg.SweepInterval <= 0 {
		return
	}
	c.startOnce.Do(func() {
		go func() {
			defer close(c.done)
			ticker := time.NewTicker(c.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.stop:
					return
				case <-ticker.C:
					if n := c.Sweep(); n > 0 {
						c.logger.Debug().Int("evicted", n).Msg("cache sweep")
					}
				}
			}
		}()
	})
}

// Close stops the sweeper and waits for it to exit.
func (c *SemanticCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	started := true
	c.startOnce.Do(func() { started = false })
	if started {
		<-c.done
	}
}

// Len returns the number of stored entries, expired or not.
func (c *SemanticCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns activity counters.
func (c *SemanticCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Entries returns a snapshot of live entries, newest first.
func (c *SemanticCache) Entries() []models.CacheEntry {
	now := c.now()
	c.mu.RLock()
	out := make([]models.CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.Expired(now) {
			out = append(out, *e)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (c *SemanticCache) record(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
}

// evict removes keys that are still expired; a concurrent Store may have
// replaced them with a live entry in the meantime.
func (c *SemanticCache) evict(keys []string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok && e.Expired(now) {
			delete(c.entries, k)
			c.evictions++
		}
	}
}

func (c *SemanticCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.CreatedAt.Before(oldest) {
			oldestKey, oldest = k, e.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func cacheKey(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

var (
	numberRe       = regexp.MustCompile(`\d+(?:\.\d+)?`)
	signatureVerbs = map[string]struct{}{
		"buy": {}, "sell": {}, "short": {}, "cover": {}, "hedge": {}, "all": {},
	}
)

// Signature summarizes the parts of text that must agree for two inputs to
// share a resolution: action verbs, tickers and numbers.
func Signature(text string) string {
	var verbs []string
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		w := symbols.Core(tok)
		if _, ok := signatureVerbs[w]; !ok {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		verbs = append(verbs, w)
	}
	tickers := symbols.Extract(text)
	numbers := numberRe.FindAllString(text, -1)
	sort.Strings(verbs)
	sort.Strings(tickers)
	sort.Strings(numbers)
	return strings.Join(verbs, ",") + "|" + strings.Join(tickers, ",") + "|" + strings.Join(numbers, ",")
}
