// Package render runs per-slot render tasks against a decoder. Each slot has
// at most one live task; a newer task cancels the older one, and results are
// only applied when their generation is still the slot's newest.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/sync/semaphore"

	"github.com/ivlev/pdfview/internal/slot"
	"github.com/ivlev/pdfview/internal/source"
	"github.com/ivlev/pdfview/internal/system"
)

// Outcome describes how a render ended when it did not fail.
type Outcome int

const (
	// Applied means the surface was written into the slot.
	Applied Outcome = iota
	// Stale means a newer render superseded this one; its pixels were dropped.
	Stale
	// Cancelled means the decoder gave up after cancellation.
	Cancelled
	// Deduplicated means an identical render was already live or applied.
	Deduplicated
	// Skipped means the slot cannot hold pixels (dummy) or the coordinator is closed.
	Skipped
	// Failed means the decoder reported an error; see DecodeError.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Cancelled:
		return "cancelled"
	case Deduplicated:
		return "deduplicated"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Options are the view parameters a surface is produced with.
type Options struct {
	Scale      float64
	Rotation   int
	Flip       bool
	Color      Color
	PixelRatio float64
}

func (o Options) pixelScale() float64 {
	if o.PixelRatio <= 0 {
		return o.Scale
	}
	return o.Scale * o.PixelRatio
}

func (o Options) matches(s *slot.Surface) bool {
	return s != nil &&
		s.Scale == o.Scale &&
		s.Rotation == o.Rotation &&
		s.Flip == o.Flip &&
		s.Foreground == o.Color.Foreground &&
		s.Background == o.Color.Background &&
		s.PixelRatio == o.PixelRatio
}

// DecodeError is a render failure local to one page.
type DecodeError struct {
	Page int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("page %d: render failed: %v", e.Page, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Result is reported for every asynchronous render.
type Result struct {
	Slot       *slot.Slot
	Options    Options
	Generation uint64
	Outcome    Outcome
	Err        error
}

// Config tunes a Coordinator.
type Config struct {
	// Workers bounds concurrent decoder calls; 0 means unbounded.
	Workers int
	// SurfaceBudget logs a warning when pooled surfaces exceed it; 0 disables.
	SurfaceBudget int64
	Logger        *log.Logger
	// OnResult receives the outcome of renders started with Go.
	OnResult func(Result)
}

// Stats are running counters.
type Stats struct {
	Issued       int64
	Applied      int64
	Stale        int64
	Cancelled    int64
	Deduplicated int64
	Failed       int64
	LiveBytes    int64
}

type task struct {
	generation uint64
	opts       Options
	ctx        context.Context
	cancel     context.CancelFunc
}

// Coordinator owns every slot surface it writes.
type Coordinator struct {
	decoder source.Decoder
	cfg     Config
	log     *log.Logger
	sem     *semaphore.Weighted

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	tasks   map[*slot.Slot]*task
	touched map[*slot.Slot]struct{}
	closed  bool
	stats   Stats
}

func New(decoder source.Decoder, cfg Config) *Coordinator {
	c := &Coordinator{
		decoder: decoder,
		cfg:     cfg,
		log:     cfg.Logger,
		tasks:   make(map[*slot.Slot]*task),
		touched: make(map[*slot.Slot]struct{}),
	}
	if c.log == nil {
		c.log = log.New(io.Discard, "", 0)
	}
	if cfg.Workers > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.Workers))
	}
	c.root, c.stop = context.WithCancel(context.Background())
	return c
}

// Render issues a render for s and waits for it.
func (c *Coordinator) Render(ctx context.Context, s *slot.Slot, opts Options) (Outcome, error) {
	t, outcome := c.begin(ctx, s, opts)
	if t == nil {
		return outcome, nil
	}
	return c.run(s, t)
}

// Go issues a render for s and returns immediately. The task is registered
// before Go returns, so successive calls for one slot keep their order.
// Only renders that actually start are reported to OnResult.
func (c *Coordinator) Go(s *slot.Slot, opts Options) {
	t, outcome := c.begin(c.root, s, opts)
	if t == nil {
		c.log.Printf("[>] Render of page %d %s", s.Page, outcome)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		outcome, err := c.run(s, t)
		c.report(Result{Slot: s, Options: opts, Generation: t.generation, Outcome: outcome, Err: err})
	}()
}

func (c *Coordinator) report(r Result) {
	if c.cfg.OnResult != nil {
		c.cfg.OnResult(r)
	}
}

func (c *Coordinator) begin(ctx context.Context, s *slot.Slot, opts Options) (*task, Outcome) {
	if s.Kind == slot.Dummy {
		return nil, Skipped
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, Skipped
	}
	if prev, ok := c.tasks[s]; ok {
		if prev.opts == opts {
			c.stats.Deduplicated++
			return nil, Deduplicated
		}
		c.log.Printf("[>] Cancelling render of page %d (generation %d)", s.Page, prev.generation)
		prev.cancel()
	} else if opts.matches(s.Surface()) {
		c.stats.Deduplicated++
		return nil, Deduplicated
	}

	t := &task{generation: s.NextGeneration(), opts: opts}
	t.ctx, t.cancel = context.WithCancel(ctx)
	c.tasks[s] = t
	c.touched[s] = struct{}{}
	c.stats.Issued++
	c.log.Printf("[>] Rendering page %d at scale %.3f (generation %d)", s.Page, opts.Scale, t.generation)
	return t, Applied
}

func (c *Coordinator) run(s *slot.Slot, t *task) (Outcome, error) {
	defer t.cancel()
	defer c.finish(s, t)

	img, err := c.decode(t.ctx, s.Page, t.opts)

	c.mu.Lock()
	defer c.mu.Unlock()

	if t.generation != s.Generation() {
		if img != nil {
			system.PutImage(img)
		}
		c.stats.Stale++
		c.log.Printf("[>] Dropped stale render of page %d (generation %d)", s.Page, t.generation)
		return Stale, nil
	}

	if err != nil {
		if t.ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, source.ErrCancelled) {
			c.stats.Cancelled++
			return Cancelled, nil
		}
		c.stats.Failed++
		derr := &DecodeError{Page: s.Page, Err: err}
		s.SetFailed(derr)
		c.log.Printf("[!] %v", derr)
		return Failed, derr
	}

	s.SetSurface(&slot.Surface{
		Image:      img,
		Scale:      t.opts.Scale,
		Rotation:   t.opts.Rotation,
		Flip:       t.opts.Flip,
		Foreground: t.opts.Color.Foreground,
		Background: t.opts.Color.Background,
		PixelRatio: t.opts.PixelRatio,
		Generation: t.generation,
	})
	c.stats.Applied++

	if budget := c.cfg.SurfaceBudget; budget > 0 {
		if live := system.LiveBytes(); live > budget {
			c.log.Printf("[!] Surfaces use %d bytes, budget is %d", live, budget)
		}
	}
	return Applied, nil
}

func (c *Coordinator) finish(s *slot.Slot, t *task) {
	c.mu.Lock()
	if c.tasks[s] == t {
		delete(c.tasks, s)
	}
	c.mu.Unlock()
}

func (c *Coordinator) decode(ctx context.Context, page int, opts Options) (*image.RGBA, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
	}

	img, err := c.decoder.RenderPage(ctx, page, source.RenderOptions{
		Scale:    opts.pixelScale(),
		Rotation: opts.Rotation,
	})
	if err != nil {
		return nil, err
	}

	rgba := toPooledRGBA(img)
	if opts.Flip {
		FlipHorizontal(rgba)
	}
	Tint(rgba, opts.Color)
	return rgba, nil
}

func toPooledRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := system.GetImage(b.Dx(), b.Dy())
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// cancelLocked cancels s's task and makes any late result stale.
func (c *Coordinator) cancelLocked(s *slot.Slot) {
	if t, ok := c.tasks[s]; ok {
		t.cancel()
		delete(c.tasks, s)
	}
	s.NextGeneration()
}

// Discard cancels any render of s and frees its surface, rendered or not.
func (c *Coordinator) Discard(s *slot.Slot) {
	if s.Kind == slot.Dummy {
		return
	}
	c.mu.Lock()
	c.cancelLocked(s)
	c.mu.Unlock()

	if n := s.DestroySurface(); n > 0 {
		c.log.Printf("[>] Freed %d bytes of page %d", n, s.Page)
	}
}

// Busy reports whether s has a live render.
func (c *Coordinator) Busy(s *slot.Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[s]
	return ok
}

// CancelAll cancels every live render.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	for s := range c.tasks {
		c.cancelLocked(s)
	}
	c.mu.Unlock()
}

// Wait blocks until every render started with Go has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels all renders, waits for them and frees every surface the
// coordinator produced.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for s := range c.tasks {
		c.cancelLocked(s)
	}
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()

	c.mu.Lock()
	touched := c.touched
	c.touched = make(map[*slot.Slot]struct{})
	c.mu.Unlock()

	for s := range touched {
		s.DestroySurface()
	}
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	st := c.stats
	touched := make([]*slot.Slot, 0, len(c.touched))
	for s := range c.touched {
		touched = append(touched, s)
	}
	c.mu.Unlock()

	for _, s := range touched {
		st.LiveBytes += s.Surface().Bytes()
	}
	return st
}
