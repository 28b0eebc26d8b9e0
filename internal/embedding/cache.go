package embedding

import (
	"container/list"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// EmbeddingCache is an LRU cache for embeddings keyed by image content hash.
type EmbeddingCache struct {
	capacity int
	cache    map[uint64]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   uint64
	value []float32
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		cache:    make(map[uint64]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key if present.
func (c *EmbeddingCache) Get(key uint64) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *EmbeddingCache) Set(key uint64, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	entry := &cacheEntry{key: key, value: value}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// ImageKey hashes the image size and its 8-bit RGB pixels. Two images with the same
// dimensions and colors get the same key regardless of their concrete image type.
func ImageKey(img image.Image) uint64 {
	b := img.Bounds()
	h := xxhash.New()
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(b.Dy()))
	_, _ = h.Write(hdr[:])

	row := make([]byte, 0, b.Dx()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row = row[:0]
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			row = append(row, c.R, c.G, c.B)
		}
		_, _ = h.Write(row)
	}
	return h.Sum64()
}

// CachedEmbedder memoizes another embedder by image content.
type CachedEmbedder struct {
	inner Embedder
	cache *EmbeddingCache
}

// NewCachedEmbedder wraps inner with an LRU of the given capacity. A non-positive
// capacity returns inner unchanged.
func NewCachedEmbedder(inner Embedder, capacity int) Embedder {
	if capacity <= 0 {
		return inner
	}
	return &CachedEmbedder{inner: inner, cache: NewEmbeddingCache(capacity)}
}

// Embed returns the cached vector for img or computes and stores it.
func (e *CachedEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if err := checkImage(img); err != nil {
		return nil, &ModelInferenceError{Op: "embed image", Err: err}
	}
	key := ImageKey(img)
	if cached, ok := e.cache.Get(key); ok {
		return append([]float32(nil), cached...), nil
	}
	emb, err := e.inner.Embed(ctx, img)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, append([]float32(nil), emb...))
	return emb, nil
}

// Dimensions returns the wrapped embedder's dimension.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the wrapped embedder.
func (e *CachedEmbedder) Close() error {
	return e.inner.Close()
}
