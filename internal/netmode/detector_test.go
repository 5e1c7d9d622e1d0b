package netmode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObserver is a hand-driven Observer for tests.
type fakeObserver struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

func (f *fakeObserver) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeObserver) Subscribe(fn func(online bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeObserver) set(online bool) {
	f.mu.Lock()
	changed := f.online != online
	f.online = online
	subs := append([]func(bool){}, f.subs...)
	f.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range subs {
		fn(online)
	}
}

func TestIsLocalModeCachedUntilReset(t *testing.T) {
	calls := 0
	local := true
	d := NewDetector(func() bool {
		calls++
		return local
	}, &fakeObserver{online: true})

	assert.True(t, d.IsLocalMode())
	assert.True(t, d.IsLocalMode())
	assert.Equal(t, 1, calls, "mode must be computed once and cached")

	local = false
	assert.True(t, d.IsLocalMode(), "stale value served until Reset")

	d.Reset()
	assert.False(t, d.IsLocalMode())
	assert.Equal(t, 2, calls)
}

func TestShouldUseLocalData(t *testing.T) {
	cases := []struct {
		name   string
		online bool
		local  bool
		want   bool
	}{
		{"online cloud mode", true, false, false},
		{"online local mode", true, true, true},
		{"offline cloud mode", false, false, true},
		{"offline local mode", false, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(func() bool { return tc.local }, &fakeObserver{online: tc.online})
			assert.Equal(t, tc.want, d.ShouldUseLocalData())
		})
	}
}

func TestProberEmitsTransitions(t *testing.T) {
	var mu sync.Mutex
	reachable := true
	probe := func(ctx context.Context) bool {
		mu.Lock()
		defer mu.Unlock()
		return reachable
	}

	p := NewProber(probe, 10*time.Millisecond)

	var events []bool
	var evMu sync.Mutex
	unsub := p.Subscribe(func(online bool) {
		evMu.Lock()
		events = append(events, online)
		evMu.Unlock()
	})

	p.Start(context.Background())
	defer p.Stop()

	assert.True(t, p.Online(), "first probe runs synchronously")

	mu.Lock()
	reachable = false
	mu.Unlock()

	require.Eventually(t, func() bool { return !p.Online() }, time.Second, 5*time.Millisecond)

	mu.Lock()
	reachable = true
	mu.Unlock()

	require.Eventually(t, func() bool { return p.Online() }, time.Second, 5*time.Millisecond)

	evMu.Lock()
	got := append([]bool{}, events...)
	evMu.Unlock()
	// initial online (from false zero value), then offline, then online
	require.GreaterOrEqual(t, len(got), 3)
	assert.True(t, got[0])
	assert.False(t, got[1])
	assert.True(t, got[2])

	unsub()
}

func TestProberUnsubscribe(t *testing.T) {
	p := NewProber(func(ctx context.Context) bool { return false }, time.Hour)

	calls := 0
	unsub := p.Subscribe(func(online bool) { calls++ })
	unsub()

	p.setOnline(true)
	assert.Zero(t, calls)
}
