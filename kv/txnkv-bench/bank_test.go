package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/transaction/metrics"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txnkv/kv/transaction/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBank(t *testing.T, strategy string, opts bankOptions) (*bank, store) {
	conf := config.NewTestConfig()
	conf.QueueDepth = 4
	conf.LockTimeout = config.NewDuration(time.Millisecond)
	s, err := newStore(strategy, conf)
	require.NoError(t, err)
	b, err := newBank(s, opts, retry.NewOptions(conf))
	require.NoError(t, err)
	require.NoError(t, b.open(context.Background()))
	return b, s
}

func TestBankKeepsTotal(t *testing.T) {
	opts := bankOptions{Accounts: 10, Workers: 4, Transfers: 50, InitialBalance: 100, Seed: 1}
	for _, strategy := range []string{metrics.Pessimistic, metrics.Optimistic} {
		b, s := newTestBank(t, strategy, opts)
		r, err := b.run(context.Background())
		require.NoError(t, err, strategy)
		assert.Equal(t, 200, r.Transfers, strategy)
		assert.Equal(t, int64(1000), r.Total, strategy)
		assert.True(t, r.P50 <= r.P99, strategy)

		stats := s.Stats()
		assert.Equal(t, 10, stats.Keys, strategy)
		assert.True(t, stats.Commits >= 201, strategy)
	}
}

func TestBankRateLimit(t *testing.T) {
	opts := bankOptions{Accounts: 2, Workers: 1, Transfers: 5, InitialBalance: 10, Rate: 100}
	b, _ := newTestBank(t, metrics.Optimistic, opts)
	r, err := b.run(context.Background())
	require.NoError(t, err)
	// The limiter starts with one token, so the other four wait 10ms each.
	assert.True(t, r.Elapsed >= 30*time.Millisecond)
}

func TestBankCancelled(t *testing.T) {
	opts := bankOptions{Accounts: 2, Workers: 2, Transfers: 100, InitialBalance: 10, Rate: 1}
	b, _ := newTestBank(t, metrics.Pessimistic, opts)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.run(ctx)
	assert.Error(t, err)
}

func TestBankOptions(t *testing.T) {
	_, err := newStore("serial", config.NewTestConfig())
	assert.Error(t, err)

	for _, opts := range []bankOptions{
		{Accounts: 1, Workers: 1},
		{Accounts: 2, Workers: 0},
		{Accounts: 2, Workers: 1, InitialBalance: -1},
		{Accounts: 2, Workers: 1, Rate: -1},
	} {
		assert.Error(t, opts.validate(), "%+v", opts)
	}
}

func TestStatusRouter(t *testing.T) {
	_, s := newTestBank(t, metrics.Optimistic, bankOptions{Accounts: 3, Workers: 1, InitialBalance: 7})
	router := newStatusRouter(s)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/debug/store")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats mvcc.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Keys)
	assert.Equal(t, uint64(1), stats.Version)

	rec = get("/debug/store/accounts")
	require.Equal(t, http.StatusOK, rec.Code)
	var accounts map[int64]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	assert.Equal(t, map[int64]int64{0: 7, 1: 7, 2: 7}, accounts)

	rec = get("/debug/store/accounts/2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "7", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get("/debug/store/accounts/9").Code)
	assert.Equal(t, http.StatusBadRequest, get("/debug/store/accounts/x").Code)

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "txnkv_txn_finished_total")
}
