package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/store"
)

type pingStore struct {
	*store.MemoryStore
	err error
}

func (p *pingStore) Ping(context.Context) error { return p.err }

func newTestContext(t *testing.T, s store.Store) *ServerContext {
	t.Helper()
	if s == nil {
		s = store.NewMemoryStore()
	}
	runner := automation.NewRunner(s, automation.NewOrchestrator(automation.OrchestratorConfig{}), s, nil)
	sc, err := NewServerContext(context.Background(), Config{Store: s, Runner: runner})
	require.NoError(t, err)
	return sc
}

var errDown = errors.New("connection refused")
