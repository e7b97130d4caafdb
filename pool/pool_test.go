package pool

import (
	"testing"
	"time"

	"github.com/lynx-family/lepusng/lepus"
	"github.com/lynx-family/lepusng/lynxenv"
)

func testBundle() *lepus.QuickContextBundle {
	return lepus.NewQuickContextBundle("card.js", []byte("var ready = true;"))
}

func TestTakeDistinctContexts(t *testing.T) {
	p, err := Create(testBundle(), nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer p.Close()
	p.FillPool(2)
	p.Wait()
	if got := p.Size(); got != 2 {
		t.Fatalf("got size %d, want 2", got)
	}

	a := p.TakeContextSafely()
	b := p.TakeContextSafely()
	if a == nil || b == nil {
		t.Fatalf("got (%v, %v), want two contexts", a, b)
	}
	defer a.Close()
	defer b.Close()
	if a == b || a.Cell() == b.Cell() || a.VM() == b.VM() {
		t.Errorf("pool handed out the same context twice")
	}
	if !a.HasTopLevelFunction() {
		t.Errorf("pooled context has no bundle loaded")
	}
	if c := p.TakeContextSafely(); c != nil {
		c.Close()
		t.Errorf("got a third context with auto-generate off")
	}
}

func TestAutoGenerate(t *testing.T) {
	p, err := Create(testBundle(), nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer p.Close()
	p.SetEnableAutoGenerate(true)
	p.FillPool(2)
	p.Wait()

	for range 2 {
		qc := p.TakeContextSafely()
		if qc == nil {
			t.Fatalf("take returned nil")
		}
		defer qc.Close()
	}

	var third *lepus.QuickContext
	for range 100 {
		if third = p.TakeContextSafely(); third != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if third == nil {
		t.Fatalf("auto-generate did not refill the pool")
	}
	third.Close()
}

func TestFillDroppedOnBadBundle(t *testing.T) {
	p, err := Create(lepus.NewQuickContextBundle("bad.js", []byte("function (")), nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer p.Close()
	p.FillPool(3)
	p.Wait()
	if got := p.Size(); got != 0 {
		t.Errorf("got size %d after a failed fill, want 0", got)
	}
}

func TestBarePoolUsesEnvSize(t *testing.T) {
	env := lynxenv.Default()
	env.Pool.Size = 2
	p, err := Create(nil, env, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer p.Close()
	p.Wait()
	if got := p.Size(); got != 2 {
		t.Errorf("got size %d, want 2", got)
	}
}

func TestCreateRejectsLegacyBundle(t *testing.T) {
	if _, err := Create(legacyBundle{}, nil, nil); err != lepus.ErrLegacyBundle {
		t.Errorf("got %v, want ErrLegacyBundle", err)
	}
}

type legacyBundle struct{}

func (legacyBundle) IsLepusNG() bool { return false }

func TestTakeUnderContention(t *testing.T) {
	p, err := Create(testBundle(), nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer p.Close()
	p.FillPool(1)
	p.Wait()

	p.mu.Lock()
	got := p.TakeContextSafely()
	p.mu.Unlock()
	if got != nil {
		t.Errorf("take succeeded while the pool was locked")
	}
	if p.Size() != 1 {
		t.Errorf("got size %d, want 1", p.Size())
	}
}

func TestCloseDiscardsLateFill(t *testing.T) {
	p, err := Create(testBundle(), nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p.Close()
	p.FillPool(1)
	p.Wait()
	if got := p.Size(); got != 0 {
		t.Errorf("got size %d after close, want 0", got)
	}
}

func TestGlobalCardPool(t *testing.T) {
	g := Global()
	if g != Global() {
		t.Fatalf("Global returned different holders")
	}
	env := lynxenv.Default()
	env.Pool.Size = 1
	g.Init(env, nil)
	defer g.Reset()

	card, err := g.CardPool()
	if err != nil {
		t.Fatalf("card pool: %v", err)
	}
	card.Wait()
	qc := g.TakeCardContext()
	if qc == nil {
		t.Fatalf("no card context")
	}
	defer qc.Close()
	if qc.Name() != lepus.DefaultContextName {
		t.Errorf("got name %q, want %q", qc.Name(), lepus.DefaultContextName)
	}

	comp, err := g.ComponentPool("https://example.com/comp.js", testBundle(), 1)
	if err != nil {
		t.Fatalf("component pool: %v", err)
	}
	again, _ := g.ComponentPool("https://example.com/comp.js", nil, 1)
	if again != comp {
		t.Errorf("component pool not reused")
	}
	comp.Wait()
	if comp.Size() != 1 {
		t.Errorf("got component pool size %d, want 1", comp.Size())
	}
}
