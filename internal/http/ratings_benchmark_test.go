package httpserver

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/Clark-Hu/stars/internal/repository"
)

func BenchmarkHandleRateTarget(b *testing.B) {
	srv := buildTestServer(b, repository.NewMemoryStore())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		headers := map[string]string{"X-Device-Id": fmt.Sprintf("bench-%d", i)}
		rec := do(b, srv, http.MethodPut, "/targets/post/1/rating", `{"rate":4}`, headers)
		if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rec.Code)
		}
	}
}

func BenchmarkHandleTargetStats(b *testing.B) {
	srv := buildTestServer(b, repository.NewMemoryStore())
	for i := 0; i < 100; i++ {
		headers := map[string]string{"X-Device-Id": fmt.Sprintf("seed-%d", i)}
		do(b, srv, http.MethodPut, "/targets/post/1/rating", fmt.Sprintf(`{"rate":%d}`, 1+i%5), headers)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := do(b, srv, http.MethodGet, "/targets/post/1/stats", "", nil)
		if rec.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rec.Code)
		}
	}
}
