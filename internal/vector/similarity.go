package vector

import (
	"math"
	"sort"

	"github.com/hyperjump/ruiji/internal/models"
)

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine of the angle between a and b clamped to [0, 1].
func CosineSimilarity(a, b []float32) float64 {
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(0, math.Min(1, InnerProduct(a, b)/(na*nb)))
}

// rank scores every candidate against query and returns the best limit hits. Ties keep
// candidate order. Returned records carry no vector.
func rank(query []float32, candidates []models.Record, limit int) []*Hit {
	hits := make([]*Hit, 0, len(candidates))
	for _, rec := range candidates {
		score := CosineSimilarity(query, rec.Vector)
		rec.Vector = nil
		hits = append(hits, &Hit{Record: rec, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits
}
