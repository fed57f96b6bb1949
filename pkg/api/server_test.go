package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/proteinops/foldy/pkg/config"
	"github.com/proteinops/foldy/pkg/kv"
	"github.com/proteinops/foldy/pkg/models"
	"github.com/proteinops/foldy/pkg/reasoner"
	"github.com/proteinops/foldy/pkg/store"
)

// interruptRecorder captures interrupt calls from the cancel path.
type interruptRecorder struct {
	calls []models.ReasonerSession
}

func (r *interruptRecorder) Interrupt(_ context.Context, session models.ReasonerSession) error {
	r.calls = append(r.calls, session)
	return nil
}

// newTestServer builds a server over miniredis with the mock reasoner
// and no archive.
func newTestServer(t *testing.T) (*Server, *interruptRecorder) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := kv.NewClientFromRedis(rdb, "foldy")

	cfg := config.Default()
	cfg.Reasoner.UseMock = true
	cfg.Reasoner.MockDelayMin = 0
	cfg.Reasoner.MockDelayMax = 0
	cfg.Jobs.StructuresDir = t.TempDir()

	mock, err := reasoner.NewMock(cfg.Reasoner, cfg.Jobs.StructuresDir)
	if err != nil {
		t.Fatalf("failed to build mock reasoner: %v", err)
	}

	ir := &interruptRecorder{}
	s := NewServer(Deps{
		Config:       cfg,
		KV:           client,
		State:        store.NewStateStore(client, cfg.Jobs.StateTTL),
		Meta:         store.NewMetaStore(client, cfg.Jobs.StateTTL),
		Queue:        store.NewEventQueue(client, cfg.Jobs.EventsTTL, cfg.Jobs.MaxEventsPerJob),
		Sessions:     store.NewReasonerStore(client, cfg.Jobs.StateTTL),
		Streamer:     mock,
		MockStreamer: mock,
		Interrupter:  ir,
		Logger:       slog.Default(),
	})
	return s, ir
}

// doRequest routes a request through the server's router so path
// parameters are bound.
func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}
