package app

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggonzalez94/bsc-trader/internal/cache"
	"github.com/ggonzalez94/bsc-trader/internal/config"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
)

type cachePolicyEnvelope struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data"`
	Warnings []string       `json:"warnings"`
	Meta     struct {
		Cache model.CacheStatus `json:"cache"`
	} `json:"meta"`
}

func TestRunCachedCommandServesFreshHitWithoutFetch(t *testing.T) {
	state, stdout := newCachePolicyTestState(t, time.Minute, false)
	key := "runner-cache-policy-fresh"
	if err := state.services.cache.Set(key, []byte(`{"source":"cache"}`), time.Minute); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}
	err := state.runCachedCommand("price", key, time.Minute, func(ctx context.Context) (any, error) {
		t.Fatal("fetch must not run on a fresh hit")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("runCachedCommand failed: %v", err)
	}
	env := decodeCachePolicyEnvelope(t, stdout)
	if env.Data["source"] != "cache" || env.Meta.Cache.Status != "hit" || env.Meta.Cache.Stale {
		t.Fatalf("expected fresh cache hit, got %+v", env)
	}
}

func TestRunCachedCommandFetchesAfterTTLExpiry(t *testing.T) {
	state, stdout := newCachePolicyTestState(t, 5*time.Minute, false)
	key := "runner-cache-policy-fetch-after-ttl"
	if err := state.services.cache.Set(key, []byte(`{"source":"cache"}`), time.Second); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)

	fetchCalls := 0
	err := state.runCachedCommand("price", key, time.Second, func(ctx context.Context) (any, error) {
		fetchCalls++
		return map[string]any{"source": "chain"}, nil
	})
	if err != nil {
		t.Fatalf("runCachedCommand failed: %v", err)
	}
	if fetchCalls != 1 {
		t.Fatalf("expected fetch after ttl expiry, got calls=%d", fetchCalls)
	}
	env := decodeCachePolicyEnvelope(t, stdout)
	if env.Data["source"] != "chain" {
		t.Fatalf("expected fetched data after ttl expiry, got %#v", env.Data)
	}
	if env.Meta.Cache.Status != "write" || env.Meta.Cache.Stale {
		t.Fatalf("expected cache write metadata, got %+v", env.Meta.Cache)
	}
}

func TestRunCachedCommandFallsBackToStaleOnUnavailable(t *testing.T) {
	state, stdout := newCachePolicyTestState(t, 5*time.Second, false)
	key := "runner-cache-policy-fallback-stale"
	if err := state.services.cache.Set(key, []byte(`{"source":"cache"}`), time.Second); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)

	err := state.runCachedCommand("price", key, time.Second, func(ctx context.Context) (any, error) {
		return nil, clierr.New(clierr.CodeUnavailable, "rpc unavailable")
	})
	if err != nil {
		t.Fatalf("expected stale fallback success, got error: %v", err)
	}
	env := decodeCachePolicyEnvelope(t, stdout)
	if env.Data["source"] != "cache" {
		t.Fatalf("expected stale cache fallback data, got %#v", env.Data)
	}
	if env.Meta.Cache.Status != "hit" || !env.Meta.Cache.Stale {
		t.Fatalf("expected stale cache hit metadata, got %+v", env.Meta.Cache)
	}
	if !containsWarning(env.Warnings, "fetch failed; serving stale data within max-stale budget") {
		t.Fatalf("expected stale fallback warning, got %+v", env.Warnings)
	}
}

func TestRunCachedCommandRejectsStaleWhenDisabled(t *testing.T) {
	state, _ := newCachePolicyTestState(t, 5*time.Second, true)
	key := "runner-cache-policy-no-stale"
	if err := state.services.cache.Set(key, []byte(`{"source":"cache"}`), time.Second); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)

	err := state.runCachedCommand("price", key, time.Second, func(ctx context.Context) (any, error) {
		return nil, clierr.New(clierr.CodeUnavailable, "rpc unavailable")
	})
	if code := clierr.ExitCode(err); code != int(clierr.CodeStale) {
		t.Fatalf("expected stale exit code %d, got %d err=%v", int(clierr.CodeStale), code, err)
	}
}

func TestRunCachedCommandDoesNotFallbackOnLiquidityFailure(t *testing.T) {
	state, _ := newCachePolicyTestState(t, 5*time.Second, false)
	key := "runner-cache-policy-no-fallback-liquidity"
	if err := state.services.cache.Set(key, []byte(`{"source":"cache"}`), time.Second); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)

	err := state.runCachedCommand("price", key, time.Second, func(ctx context.Context) (any, error) {
		return nil, clierr.New(clierr.CodeLiquidity, "no liquidity pool for token pair")
	})
	if code := clierr.ExitCode(err); code != int(clierr.CodeLiquidity) {
		t.Fatalf("expected liquidity exit code %d, got %d err=%v", int(clierr.CodeLiquidity), code, err)
	}
}

func TestRenderErrorKeepsReasonAndRaw(t *testing.T) {
	state, _ := newCachePolicyTestState(t, time.Second, false)
	cause := clierr.New(clierr.CodeUnavailable, "execution reverted: Pancake: K")
	state.renderError("sell", clierr.Wrap(clierr.CodeReverted, "Pancake: K", cause), []string{"retrying skipped"})

	var env struct {
		Success  bool            `json:"success"`
		Warnings []string        `json:"warnings"`
		Error    model.ErrorBody `json:"error"`
	}
	stderr := state.runner.stderr.(*bytes.Buffer)
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope failed: %v output=%s", err, stderr.String())
	}
	if env.Success || env.Error.Type != "reverted" || env.Error.Code != int(clierr.CodeReverted) {
		t.Fatalf("unexpected error envelope %+v", env)
	}
	if env.Error.Message != "Pancake: K" {
		t.Fatalf("expected diagnosed reason as message, got %q", env.Error.Message)
	}
	if env.Error.Raw == "" {
		t.Fatal("expected raw cause text")
	}
	if !containsWarning(env.Warnings, "retrying skipped") {
		t.Fatalf("expected warning propagation, got %+v", env.Warnings)
	}
}

func newCachePolicyTestState(t *testing.T, maxStale time.Duration, noStale bool) (*runtimeState, *bytes.Buffer) {
	t.Helper()
	tmp := t.TempDir()
	store, err := cache.Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	settings := config.Settings{
		OutputMode:     "json",
		RPCCallTimeout: 2 * time.Second,
		CacheEnabled:   true,
		MaxStale:       maxStale,
		NoStale:        noStale,
	}
	state := &runtimeState{
		runner: &Runner{
			stdout: stdout,
			stderr: stderr,
			now:    time.Now,
		},
		settings: settings,
		services: &services{settings: settings, cache: store},
	}
	return state, stdout
}

func decodeCachePolicyEnvelope(t *testing.T, buf *bytes.Buffer) cachePolicyEnvelope {
	t.Helper()
	var env cachePolicyEnvelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope failed: %v output=%s", err, buf.String())
	}
	return env
}

func containsWarning(warnings []string, target string) bool {
	for _, warning := range warnings {
		if warning == target {
			return true
		}
	}
	return false
}
