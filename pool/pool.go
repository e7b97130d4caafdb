// Package pool pre-creates QuickContexts on background goroutines so a page
// can take a ready context instead of paying for runtime construction and
// bundle loading on its critical path.
package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/lynx-family/lepusng/lepus"
	"github.com/lynx-family/lepusng/lynxenv"
)

var log = commonlog.GetLogger("lepusng.pool")

// errDeserialize aborts a fill when the bundle does not load.
var errDeserialize = errors.New("pool: bundle failed to deserialize")

// QuickContextPool holds contexts that are built and, when a bundle is
// set, have that bundle deserialized. A context taken from the pool is
// owned by the caller and never handed out again.
type QuickContextPool struct {
	bundle   *lepus.QuickContextBundle
	opts     lepus.Options
	fileName string

	mu       sync.Mutex
	contexts []*lepus.QuickContext
	closed   bool

	autoGenerate atomic.Bool
	// fills is allocated apart from the pool so in-flight fills do not keep
	// the pool reachable.
	fills *sync.WaitGroup
}

// Create returns a pool for bundle, configured from env. With a nil bundle
// members are bare contexts and the pool is filled with env's default pool
// size right away. A nil env means lynxenv.Default. delegate may be nil.
func Create(bundle lepus.ContextBundle, env *lynxenv.Env, delegate lepus.Delegate) (*QuickContextPool, error) {
	if env == nil {
		env = lynxenv.Default()
	}
	opts, err := env.Options(delegate)
	if err != nil {
		return nil, err
	}
	p := &QuickContextPool{opts: opts, fills: new(sync.WaitGroup)}
	p.autoGenerate.Store(env.Pool.AutoGenerate)
	if bundle == nil {
		p.FillPool(env.PoolSize())
		return p, nil
	}
	if !bundle.IsLepusNG() {
		return nil, lepus.ErrLegacyBundle
	}
	qb, ok := bundle.(*lepus.QuickContextBundle)
	if !ok {
		return nil, lepus.ErrLegacyBundle
	}
	p.bundle = qb
	p.fileName = qb.FileName
	return p, nil
}

// SetEnableAutoGenerate turns the refill after each take on or off.
func (p *QuickContextPool) SetEnableAutoGenerate(enable bool) {
	p.autoGenerate.Store(enable)
}

// Size returns the number of contexts ready to be taken.
func (p *QuickContextPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}

// FillPool builds count contexts on a background goroutine and adds them
// to the pool. Construction runs without the pool lock held. If the bundle
// fails to deserialize the fill is dropped without retry; if the pool is
// closed or collected meanwhile the new contexts are discarded.
func (p *QuickContextPool) FillPool(count int) {
	if count <= 0 {
		return
	}
	wp := weak.Make(p)
	bundle, opts, fileName := p.bundle, p.opts, p.fileName
	fills := p.fills
	fills.Add(1)
	go func() {
		defer fills.Done()
		built, err := build(bundle, opts, fileName, count)
		if err != nil {
			log.Warning("fill dropped", "count", count, "error", err.Error())
			return
		}
		pool := wp.Value()
		if pool == nil || !pool.add(built) {
			closeAll(built)
		}
	}()
}

// Wait blocks until every fill started so far has finished.
func (p *QuickContextPool) Wait() {
	p.fills.Wait()
}

func (p *QuickContextPool) add(built []*lepus.QuickContext) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.contexts = append(p.contexts, built...)
	log.Debug("pool filled", "added", len(built), "size", len(p.contexts))
	return true
}

func build(bundle *lepus.QuickContextBundle, opts lepus.Options, fileName string, count int) ([]*lepus.QuickContext, error) {
	built := make([]*lepus.QuickContext, count)
	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(min(count, runtime.GOMAXPROCS(0)))
	for i := range count {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			qc := lepus.NewQuickContext(&opts)
			built[i] = qc
			if bundle == nil {
				return nil
			}
			if _, ok := qc.DeSerialize(bundle, false, fileName); !ok {
				return errDeserialize
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(built)
		return nil, err
	}
	return built, nil
}

func closeAll(contexts []*lepus.QuickContext) {
	for _, qc := range contexts {
		if qc != nil {
			qc.Close()
		}
	}
}

// TakeContextSafely removes and returns the most recently added context,
// or nil when the pool is empty or another goroutine holds the lock. With
// auto-generate on, each successful take starts a refill of one.
func (p *QuickContextPool) TakeContextSafely() *lepus.QuickContext {
	if !p.mu.TryLock() {
		return nil
	}
	var qc *lepus.QuickContext
	if n := len(p.contexts); n > 0 {
		qc = p.contexts[n-1]
		p.contexts[n-1] = nil
		p.contexts = p.contexts[:n-1]
	}
	closed := p.closed
	p.mu.Unlock()

	if !closed && p.autoGenerate.Load() {
		p.FillPool(1)
	}
	return qc
}

// Close closes every context still in the pool. Fills finishing later
// discard their contexts.
func (p *QuickContextPool) Close() error {
	p.mu.Lock()
	p.closed = true
	contexts := p.contexts
	p.contexts = nil
	p.mu.Unlock()
	closeAll(contexts)
	return nil
}
