// Package dedupe collapses duplicate catalog entries into one logical artwork.
package dedupe

import "github.com/hyperjump/ruiji/internal/models"

// ByKey returns the items whose key is non-empty and not seen before, in input order.
// The first occurrence of each key wins; later duplicates are dropped silently.
func ByKey[T any](items []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Records deduplicates records by payload image URL. Records without an image URL are dropped.
func Records(records []models.Record) []models.Record {
	return ByKey(records, models.Record.ImageURL)
}

// Results deduplicates search results by image URL. Results without an image URL are dropped.
func Results(results []models.SearchResult) []models.SearchResult {
	return ByKey(results, func(r models.SearchResult) string { return r.ImageURL })
}

// Cap truncates items to at most n entries. Non-positive n returns an empty slice.
func Cap[T any](items []T, n int) []T {
	if n <= 0 {
		return items[:0]
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}
