package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitReady_SucceedsOnceHealthy(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := WaitReady(context.Background(), srv.URL+"/health", 5*time.Second)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestWaitReady_TimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := WaitReady(context.Background(), srv.URL, 300*time.Millisecond)
	assert.Error(t, err)
}

func TestWaitReady_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := WaitReady(ctx, srv.URL, time.Minute)
	assert.Error(t, err)
}

func TestServerManager_MissingBinary(t *testing.T) {
	sm := NewServerManager()

	_, err := sm.StartServer(context.Background(), ServerConfig{
		Name:    "withoutbg",
		BinPath: "definitely-not-a-real-binary-clearbg",
		Port:    18091,
	})
	assert.Error(t, err)
	assert.False(t, sm.Running("withoutbg", 18091))
	assert.Error(t, sm.StopServer("withoutbg", 18091))
}
