package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/ruiji/internal/models"
)

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := NewMemoryIndex(1024)
	ctx := context.Background()
	records := make([]models.Record, 1000)
	for i := range records {
		vec := make([]float32, 1024)
		vec[0] = float32(i) / 1000
		vec[i%1024] += 1
		records[i] = models.Record{ID: models.PointID(fmt.Sprint(i)), Vector: vec, Payload: models.Payload{ImageURL: fmt.Sprintf("%d.jpg", i)}}
	}
	_ = idx.Upsert(ctx, records)
	query := make([]float32, 1024)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 50)
	}
}
