package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickNeverSelf(t *testing.T) {
	for _, w := range []string{"uniform", "hotspot"} {
		o := options{workload: w, accounts: 3}
		for range 500 {
			a, b := pick(o)
			assert.NotEqual(t, a, b)
			assert.Less(t, a, 3)
			assert.Less(t, b, 3)
		}
	}
}

func TestRunCountsOutcomes(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := uuid.Parse(r.Header.Get("X-User-ID"))
		assert.NoError(t, err)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		if calls.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	o := options{
		targetURL: srv.URL, concurrency: 2, duration: 100 * time.Millisecond, workload: "uniform",
		accounts: 10, amount: "1.00", output: filepath.Join(t.TempDir(), "results.json"),
	}
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), o, &out))

	var results map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	assert.Greater(t, results["total_requests"].(float64), float64(0))
	assert.Greater(t, results["success_created"].(float64), float64(0))
	assert.Equal(t, float64(0), results["errors"])
	assert.FileExists(t, o.output)
}
