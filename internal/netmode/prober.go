package netmode

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
)

// ProbeFunc reports whether the primary backend currently answers.
type ProbeFunc func(ctx context.Context) bool

// Prober is the production Observer: it pings the primary backend on an
// interval and emits online/offline transitions to subscribers. It stands
// in for the browser's online/offline events in a headless service.
type Prober struct {
	probe    ProbeFunc
	interval time.Duration

	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewProber(probe ProbeFunc, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Prober{
		probe:    probe,
		interval: interval,
		subs:     make(map[int]func(online bool)),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the first probe synchronously so callers see a settled state,
// then keeps probing in the background until Stop.
func (p *Prober) Start(ctx context.Context) {
	p.setOnline(p.probe(ctx))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.setOnline(p.probe(ctx))
			case <-p.stopCh:
				return
			}
		}
	}()
}

func (p *Prober) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *Prober) Subscribe(fn func(online bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Prober) setOnline(online bool) {
	p.mu.Lock()
	if p.online == online {
		p.mu.Unlock()
		return
	}
	p.online = online
	fns := make([]func(bool), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	logger.Log.Info("Connectivity changed", zap.Bool("online", online))
	for _, fn := range fns {
		fn(online)
	}
}
