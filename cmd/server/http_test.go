package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tilecraft.ai/internal/progression"
	"tilecraft.ai/internal/sim/catalogs"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/tuning"
)

func newTestServer(t *testing.T, admin bool, opts ...engine.Option) (*engine.Engine, *progression.State, *httptest.Server) {
	t.Helper()
	prog := progression.New()
	opts = append([]engine.Option{engine.WithSinks(prog)}, opts...)
	eng, err := engine.New("grid_t", tuning.Defaults(), catalogs.Default(), prog, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	srv := httptest.NewServer(newMux(httpDeps{eng: eng, prog: prog, log: zap.NewNop(), adminHTTP: admin}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return eng, prog, srv
}

func TestGridDump(t *testing.T) {
	eng, _, srv := newTestServer(t, false)
	_, err := eng.Place(context.Background(), grid.Pos{X: 2, Y: 3}, grid.Study)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/v1/grid")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dump gridDump
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dump))
	assert.Equal(t, "grid_t", dump.GridID)
	assert.Equal(t, eng.Digest(), dump.Digest)
	require.Len(t, dump.Blocks, 1)
	assert.Equal(t, [2]int{2, 3}, dump.Blocks[0].Pos)
	assert.Equal(t, "STUDY", dump.Blocks[0].Type)

	resp2, err := http.Get(srv.URL + "/admin/v1/state")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, srv := newTestServer(t, false)
	for _, p := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}
}

func TestHealthzReportsCorruption(t *testing.T) {
	cfg := tuning.Defaults()
	store := grid.NewStore(cfg.Grid.Width, cfg.Grid.Height)
	eng, _, srv := newTestServer(t, false, engine.WithStore(store))
	res, err := eng.Place(context.Background(), grid.Pos{X: 1, Y: 1}, grid.Family)
	require.NoError(t, err)

	store.SetInsertHook(func(grid.Pos) error { return errors.New("index write failed") })
	_, err = eng.Move(context.Background(), res.BlockID, grid.Pos{X: 2, Y: 2})
	require.ErrorIs(t, err, grid.ErrCorrupted)
	store.SetInsertHook(nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdminUnlock(t *testing.T) {
	_, prog, srv := newTestServer(t, true)

	resp, err := http.Post(srv.URL+"/admin/v1/unlock?type=work&tier=2", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, prog.IsTierUnlocked(grid.Work, 2))

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/admin/v1/unlock?type=WORK&tier=2", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, prog.IsTierUnlocked(grid.Work, 2))

	resp, err = http.Post(srv.URL+"/admin/v1/unlock?type=NOPE&tier=2", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApplyUnlocks(t *testing.T) {
	cats := catalogs.Default()
	p := progression.New()
	require.NoError(t, applyUnlocks(p, cats, "work:2, HEALTH:3"))
	assert.True(t, p.IsTierUnlocked(grid.Work, 2))
	assert.True(t, p.IsTierUnlocked(grid.Health, 3))

	for _, bad := range []string{"WORK", "WORK:1", "NOPE:2", "WORK:x"} {
		assert.Error(t, applyUnlocks(progression.New(), cats, bad), bad)
	}
}
