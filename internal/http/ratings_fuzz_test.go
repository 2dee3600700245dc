package httpserver

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Clark-Hu/stars/internal/repository"
)

func FuzzParseLimit(f *testing.F) {
	seeds := []string{"limit=5", "limit=abc", "limit=200", "limit=-1", ""}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		values, err := url.ParseQuery(raw)
		if err != nil {
			return
		}
		limit, err := parseLimit(values)
		if err == nil && (limit < 0 || limit > 100) {
			t.Fatalf("limit %d out of range", limit)
		}
	})
}

func FuzzQueryInput(f *testing.F) {
	seeds := []string{"actorKind=user&actorId=1", "actorId=7", "device=abc", "actorKind=user&actorId=-1", ""}
	for _, seed := range seeds {
		f.Add(seed)
	}
	srv := buildTestServer(f, repository.NewMemoryStore())

	f.Fuzz(func(t *testing.T, raw string) {
		if _, err := url.ParseQuery(raw); err != nil {
			return
		}
		req := httptest.NewRequest("GET", "/targets/post/1/rating", nil)
		req.URL.RawQuery = raw
		in, err := srv.queryInput(req)
		if err == nil && in.Actor != nil && in.Actor.RaterRef().Kind == "" {
			t.Fatalf("actor accepted without kind: %q", raw)
		}
	})
}
