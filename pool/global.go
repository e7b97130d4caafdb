package pool

import (
	"sync"

	"github.com/lynx-family/lepusng/lepus"
	"github.com/lynx-family/lepusng/lynxenv"
)

// LynxGlobalPool is the process-wide pool holder. It owns one bare-context
// pool for cards and one bundle pool per dynamic component.
type LynxGlobalPool struct {
	mu         sync.Mutex
	env        *lynxenv.Env
	delegate   lepus.Delegate
	card       *QuickContextPool
	components map[string]*QuickContextPool
}

var (
	global     *LynxGlobalPool
	globalOnce sync.Once
)

// Global returns the process-wide pool holder.
func Global() *LynxGlobalPool {
	globalOnce.Do(func() {
		global = &LynxGlobalPool{components: make(map[string]*QuickContextPool)}
	})
	return global
}

// Init sets the switches and delegate used by pools created afterwards.
func (g *LynxGlobalPool) Init(env *lynxenv.Env, delegate lepus.Delegate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.env = env
	g.delegate = delegate
}

// CardPool returns the card context pool, creating and filling it on first
// use.
func (g *LynxGlobalPool) CardPool() (*QuickContextPool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.card != nil {
		return g.card, nil
	}
	p, err := Create(nil, g.env, g.delegate)
	if err != nil {
		return nil, err
	}
	g.card = p
	return p, nil
}

// TakeCardContext takes a context from the card pool, or returns nil when
// none is ready.
func (g *LynxGlobalPool) TakeCardContext() *lepus.QuickContext {
	p, err := g.CardPool()
	if err != nil {
		log.Error("card pool unavailable", "error", err.Error())
		return nil
	}
	return p.TakeContextSafely()
}

// ComponentPool returns the pool for the dynamic component at url, creating
// it for bundle and filling it with count contexts on first use.
func (g *LynxGlobalPool) ComponentPool(url string, bundle *lepus.QuickContextBundle, count int) (*QuickContextPool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.components[url]; ok {
		return p, nil
	}
	p, err := Create(bundle, g.env, g.delegate)
	if err != nil {
		return nil, err
	}
	p.FillPool(count)
	g.components[url] = p
	return p, nil
}

// Reset closes every pool. The holder can be reused after Init.
func (g *LynxGlobalPool) Reset() {
	g.mu.Lock()
	card, components := g.card, g.components
	g.card = nil
	g.components = make(map[string]*QuickContextPool)
	g.mu.Unlock()

	if card != nil {
		card.Close()
	}
	for _, p := range components {
		p.Close()
	}
}
