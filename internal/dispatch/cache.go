package dispatch

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"

	"medical-dictation-service/internal/stt"
)

// ResultCache is a bounded cache of transcription results keyed by an audio
// fingerprint. Eviction removes the oldest entries once the bound is
// exceeded. The cache is owned by the orchestrator and injected at
// construction, never reached through package globals.
type ResultCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[uint64]*stt.Result
	order   []uint64
}

// NewResultCache creates a cache holding at most maxSize results.
func NewResultCache(maxSize int) *ResultCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &ResultCache{
		maxSize: maxSize,
		entries: make(map[uint64]*stt.Result),
	}
}

// Fingerprint hashes the sample data and language hint into a cache key.
func Fingerprint(samples []float32, sampleRate int, lang string) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(sampleRate))
	h.Write(buf[:])
	h.Write([]byte(lang))
	for _, s := range samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(s))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// Get returns the cached result for a key, if present. Callers receive
// a copy: finalization mutates result text during enhancement and must
// not write through to the cache.
func (c *ResultCache) Get(key uint64) (*stt.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	out := *res
	return &out, true
}

// Put stores a result, evicting the oldest entries beyond the bound.
// The entry is a copy: the caller keeps its own result and may mutate
// it without poisoning the cache.
func (c *ResultCache) Put(key uint64, res *stt.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	stored := *res
	c.entries[key] = &stored

	for len(c.order) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Len returns the current number of cached results.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
