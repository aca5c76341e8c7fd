// Package viewer composes layout, visibility tracking and rendering into a
// document viewer driven by a scrollable viewport.
package viewer

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/pdfview/internal/fit"
	"github.com/ivlev/pdfview/internal/geometry"
	"github.com/ivlev/pdfview/internal/layout"
	"github.com/ivlev/pdfview/internal/render"
	"github.com/ivlev/pdfview/internal/slot"
	"github.com/ivlev/pdfview/internal/source"
	"github.com/ivlev/pdfview/internal/store"
	"github.com/ivlev/pdfview/internal/visibility"
)

// State is the controller lifecycle.
type State int

const (
	Closed State = iota
	Opening
	Ready
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Viewport is the scrollable window the pages are shown in. It delivers
// intersection events through HandleIntersections.
type Viewport interface {
	Bounds() geometry.Span
	Size() geometry.Size
	ScrollTo(top float64)
	// Refresh tells the viewport that slot geometry changed.
	Refresh()
}

// Config holds the settings used for documents without stored state, plus
// the layout and rendering parameters that never change per document.
type Config struct {
	Gap           float64
	PixelRatio    float64
	Workers       int
	SurfaceBudget int64

	Layout   layout.Policy
	Fit      fit.Policy
	Scale    float64
	Rotation int
	Flip     bool
	Color    render.Color
}

func DefaultConfig() Config {
	return Config{
		Gap:        16,
		PixelRatio: 1,
		Workers:    4,
		Layout:     layout.Single,
		Fit:        fit.None,
		Scale:      1,
		Color:      render.Original,
	}
}

type Option func(*Controller)

func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

func WithStore(s store.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithLogger sets the logger; the render and visibility layers log through
// copies of it with their own prefix.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller is safe for concurrent use. Viewport calls and callbacks are
// made without its lock held.
type Controller struct {
	viewport Viewport
	cfg      Config
	store    store.Store
	log      *log.Logger
	tracker  *visibility.Tracker

	mu         sync.Mutex
	state      State
	key        string
	decoder    source.Decoder
	coord      *render.Coordinator
	pages      []*slot.Slot
	sizes      []geometry.Size
	rows       []layout.Row
	view       store.State
	failedRows map[int]bool

	onPage  []func(int)
	onScale []func(float64)
	onError []func(error)
}

func New(viewport Viewport, opts ...Option) *Controller {
	c := &Controller{
		viewport: viewport,
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = log.New(io.Discard, "", 0)
	}
	c.tracker = visibility.New(viewport, (*materializer)(c), visibility.Config{
		OnCurrentPage: c.pageChanged,
		Logger:        c.sublogger("[visibility] "),
	})
	return c
}

func (c *Controller) sublogger(prefix string) *log.Logger {
	return log.New(c.log.Writer(), prefix, c.log.Flags())
}

// OnCurrentPageChanged registers fn for current page changes. fn may call
// back into the controller.
func (c *Controller) OnCurrentPageChanged(fn func(page int)) {
	c.mu.Lock()
	c.onPage = append(c.onPage, fn)
	c.mu.Unlock()
}

func (c *Controller) OnScaleChanged(fn func(scale float64)) {
	c.mu.Lock()
	c.onScale = append(c.onScale, fn)
	c.mu.Unlock()
}

// OnError receives row-level failures.
func (c *Controller) OnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

func (c *Controller) requireLocked(op string) error {
	if c.state != Ready {
		return &InvalidStateError{Op: op, State: c.state}
	}
	return nil
}

// Open lays out decoder's pages and shows the page stored for key. The
// controller owns decoder from here on and closes it on failure.
func (c *Controller) Open(ctx context.Context, key string, decoder source.Decoder) error {
	c.mu.Lock()
	if c.state != Closed {
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "open", State: st}
	}
	c.state = Opening
	c.mu.Unlock()

	fail := func(err error) error {
		decoder.Close()
		c.mu.Lock()
		c.state = Closed
		c.mu.Unlock()
		return err
	}

	sizes, err := measure(ctx, decoder, c.cfg.Workers)
	if err != nil {
		return fail(fmt.Errorf("opening %s: %w", key, err))
	}
	view := c.restore(key, len(sizes))
	c.log.Printf("[*] Opening %s: %d pages, layout %s, scale %.3f, page %d",
		key, len(sizes), view.Layout, view.Scale, view.Page)

	pages := make([]*slot.Slot, len(sizes))
	for i, size := range sizes {
		pages[i] = slot.New(i+1, size)
		pages[i].SetScale(view.Scale)
		pages[i].SetRotation(view.Rotation)
	}

	c.mu.Lock()
	c.key = key
	c.decoder = decoder
	c.coord = render.New(decoder, render.Config{
		Workers:       c.cfg.Workers,
		SurfaceBudget: c.cfg.SurfaceBudget,
		Logger:        c.sublogger("[render] "),
		OnResult:      c.renderDone,
	})
	c.pages = pages
	c.sizes = sizes
	c.view = view
	c.relayoutLocked()
	slots := c.slotsLocked()
	c.mu.Unlock()

	// The first batch only materializes pages; the restored page stays
	// current whatever the overlap says.
	c.tracker.Suppress()
	c.tracker.Register(slots)

	c.mu.Lock()
	c.state = Ready
	top := c.pages[view.Page-1].Span().Top
	c.mu.Unlock()

	c.reveal(top)
	c.tracker.SetCurrent(view.Page)
	c.tracker.Resume()

	if view.Fit != fit.None {
		if err := c.ScaleToFit(view.Fit); err != nil {
			c.log.Printf("[!] Could not fit %s: %v", view.Fit, err)
			c.emitError(err)
		}
	}
	return nil
}

// measure fetches every page size concurrently.
func measure(ctx context.Context, decoder source.Decoder, workers int) ([]geometry.Size, error) {
	n := decoder.PageCount()
	if n <= 0 {
		return nil, ErrEmptyDocument
	}

	sizes := make([]geometry.Size, n)
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range sizes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			size, err := decoder.PageDimensions(i + 1)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			sizes[i] = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sizes, nil
}

// restore merges the stored state for key over the configured defaults.
func (c *Controller) restore(key string, pageCount int) store.State {
	view := store.State{
		Layout:   c.cfg.Layout,
		Scale:    c.cfg.Scale,
		Rotation: c.cfg.Rotation,
		Flip:     c.cfg.Flip,
		Color:    c.cfg.Color,
		Page:     1,
		Fit:      c.cfg.Fit,
	}
	if c.store != nil {
		saved, ok, err := c.store.Load(key)
		if err != nil {
			c.log.Printf("[!] Could not load state of %s: %v", key, err)
		} else if ok {
			view = saved
		}
	}

	if view.Layout.Validate() != nil {
		view.Layout = c.cfg.Layout
	}
	if !validScale(view.Scale) {
		view.Scale = 1
	}
	if r, err := geometry.NormalizeRotation(view.Rotation); err == nil {
		view.Rotation = r
	} else {
		view.Rotation = 0
	}
	if view.Page < 1 {
		view.Page = 1
	}
	if view.Page > pageCount {
		view.Page = pageCount
	}
	return view
}

func validScale(s float64) bool {
	return s > 0 && !math.IsInf(s, 0) && !math.IsNaN(s)
}

// relayoutLocked rebuilds rows for the current layout and places them.
func (c *Controller) relayoutLocked() {
	c.rows = layout.Build(c.view.Layout, c.pages)
	layout.Arrange(c.rows, c.cfg.Gap)
	c.failedRows = make(map[int]bool)
}

// arrangeLocked re-places rows after slot sizes changed.
func (c *Controller) arrangeLocked() {
	layout.Arrange(c.rows, c.cfg.Gap)
}

func (c *Controller) slotsLocked() []*slot.Slot {
	var out []*slot.Slot
	for _, r := range c.rows {
		out = append(out, r.Slots...)
	}
	return out
}

func (c *Controller) renderOptionsLocked() render.Options {
	return render.Options{
		Scale:      c.view.Scale,
		Rotation:   c.view.Rotation,
		Flip:       c.view.Flip,
		Color:      c.view.Color,
		PixelRatio: c.cfg.PixelRatio,
	}
}

// rerenderLocked issues a render for every visible slot.
func (c *Controller) rerenderLocked() {
	opts := c.renderOptionsLocked()
	for _, s := range c.tracker.Visible() {
		c.coord.Go(s, opts)
	}
}

func (c *Controller) persistLocked() {
	if c.store == nil {
		return
	}
	if err := c.store.Save(c.key, c.view); err != nil {
		c.log.Printf("[!] Could not save state of %s: %v", c.key, err)
	}
}

func (c *Controller) currentTopLocked() float64 {
	return c.pages[c.view.Page-1].Span().Top
}

// reveal puts top at the top of the viewport. The viewport is refreshed
// instead when it is already there, since slot geometry changed.
func (c *Controller) reveal(top float64) {
	if c.viewport.Bounds().Top == top {
		c.viewport.Refresh()
		return
	}
	c.viewport.ScrollTo(top)
}

// Close releases every surface and the decoder.
func (c *Controller) Close() error {
	c.mu.Lock()
	if err := c.requireLocked("close"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = Closed
	coord, decoder, key := c.coord, c.decoder, c.key
	c.mu.Unlock()

	c.tracker.Unregister()
	coord.Close()
	err := decoder.Close()

	c.mu.Lock()
	c.coord = nil
	c.decoder = nil
	c.pages = nil
	c.sizes = nil
	c.rows = nil
	c.failedRows = nil
	c.mu.Unlock()

	c.log.Printf("[*] Closed %s", key)
	if err != nil {
		return fmt.Errorf("closing %s: %w", key, err)
	}
	return nil
}

// SetLayout regroups the pages. Real slots keep their surfaces; only pads
// are recreated. An invalid policy panics.
func (c *Controller) SetLayout(p layout.Policy) error {
	if err := p.Validate(); err != nil {
		panic(err)
	}

	c.mu.Lock()
	if err := c.requireLocked("set layout"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.view.Layout = p
	c.relayoutLocked()
	c.persistLocked()
	slots := c.slotsLocked()
	top := c.currentTopLocked()
	policy := c.view.Fit
	c.mu.Unlock()

	c.tracker.Register(slots)
	c.reveal(top)
	return c.reapplyFit(policy)
}

// SetScale zooms every page. Setting the current scale again does nothing.
func (c *Controller) SetScale(scale float64) error {
	if !validScale(scale) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}

	c.mu.Lock()
	if err := c.requireLocked("set scale"); err != nil {
		c.mu.Unlock()
		return err
	}
	if scale == c.view.Scale {
		c.mu.Unlock()
		return nil
	}
	c.view.Scale = scale
	for _, s := range c.slotsLocked() {
		s.SetScale(scale)
	}
	c.arrangeLocked()
	c.rerenderLocked()
	c.persistLocked()
	top := c.currentTopLocked()
	callbacks := append([]func(float64){}, c.onScale...)
	c.mu.Unlock()

	c.log.Printf("[*] Scale %.3f", scale)
	c.reveal(top)
	for _, fn := range callbacks {
		fn(scale)
	}
	return nil
}

// SetRotation turns every page by deg, a multiple of 90 (clockwise when
// positive).
func (c *Controller) SetRotation(deg int) error {
	rotation, err := geometry.NormalizeRotation(deg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.requireLocked("set rotation"); err != nil {
		c.mu.Unlock()
		return err
	}
	if rotation == c.view.Rotation {
		c.mu.Unlock()
		return nil
	}
	c.view.Rotation = rotation
	for _, s := range c.slotsLocked() {
		s.SetRotation(rotation)
	}
	c.arrangeLocked()
	c.rerenderLocked()
	c.persistLocked()
	top := c.currentTopLocked()
	policy := c.view.Fit
	c.mu.Unlock()

	c.reveal(top)
	return c.reapplyFit(policy)
}

func (c *Controller) SetFlip(flip bool) error {
	return c.restyle("set flip", func(v *store.State) bool {
		changed := v.Flip != flip
		v.Flip = flip
		return changed
	})
}

func (c *Controller) SetColor(color render.Color) error {
	return c.restyle("set color", func(v *store.State) bool {
		changed := v.Color != color
		v.Color = color
		return changed
	})
}

// restyle applies a change that keeps geometry as is.
func (c *Controller) restyle(op string, apply func(*store.State) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLocked(op); err != nil {
		return err
	}
	if !apply(&c.view) {
		return nil
	}
	c.rerenderLocked()
	c.persistLocked()
	return nil
}

// ScaleToFit sizes the current row to the viewport and remembers the policy
// for later layout and rotation changes. None only clears the policy.
func (c *Controller) ScaleToFit(policy fit.Policy) error {
	size := c.viewport.Size()

	c.mu.Lock()
	if err := c.requireLocked("scale to fit"); err != nil {
		c.mu.Unlock()
		return err
	}
	scale, err := c.fitLocked(policy, size)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.view.Fit = policy
	c.persistLocked()
	c.mu.Unlock()

	return c.SetScale(scale)
}

func (c *Controller) fitLocked(policy fit.Policy, viewport geometry.Size) (float64, error) {
	row, err := layout.RowAndNeighborsForPage(c.view.Layout, c.view.Page, len(c.pages))
	if err != nil {
		return 0, err
	}
	scale, err := fit.ComputeScale(fit.Request{
		Policy:     policy,
		Row:        row,
		Dimensions: func(page int) geometry.Size { return c.sizes[page-1] },
		Rotation:   c.view.Rotation,
		Viewport:   viewport,
		Gap:        c.cfg.Gap,
		Layout:     c.view.Layout,
		Current:    c.view.Scale,
	})
	if err != nil {
		return 0, &RowError{
			Row:   layout.RowForPage(c.view.Layout, c.view.Page),
			Pages: row,
			Err:   &DecodeError{Page: firstPage(row), Err: err},
		}
	}
	return scale, nil
}

// firstPage is the first real page of a row listing, pads being 0.
func firstPage(row []int) int {
	for _, p := range row {
		if p > 0 {
			return p
		}
	}
	return 0
}

func (c *Controller) reapplyFit(policy fit.Policy) error {
	if policy == fit.None {
		return nil
	}
	return c.ScaleToFit(policy)
}

// NavigateTo scrolls page into view. The current page follows once the
// viewport reports the new intersections.
func (c *Controller) NavigateTo(page int) error {
	c.mu.Lock()
	if err := c.requireLocked("navigate"); err != nil {
		c.mu.Unlock()
		return err
	}
	if page < 1 || page > len(c.pages) {
		c.mu.Unlock()
		return &InvalidPageError{Page: page, Count: len(c.pages)}
	}
	top := c.pages[page-1].Span().Top
	c.mu.Unlock()

	c.viewport.ScrollTo(top)
	return nil
}

// HandleIntersections feeds viewport events to the visibility tracker.
func (c *Controller) HandleIntersections(batch []visibility.Event) {
	c.mu.Lock()
	open := c.state != Closed
	c.mu.Unlock()
	if open {
		c.tracker.Handle(batch)
	}
}

func (c *Controller) pageChanged(page int) {
	c.mu.Lock()
	if c.state != Ready || page == c.view.Page {
		c.mu.Unlock()
		return
	}
	c.view.Page = page
	c.persistLocked()
	callbacks := append([]func(int){}, c.onPage...)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(page)
	}
}

// renderDone reports a row error once every real slot of the row failed.
func (c *Controller) renderDone(r render.Result) {
	c.mu.Lock()
	if c.state != Ready || r.Slot.Page < 1 || r.Slot.Page > len(c.pages) {
		c.mu.Unlock()
		return
	}
	idx := layout.RowForPage(c.view.Layout, r.Slot.Page) - 1
	if idx >= len(c.rows) {
		c.mu.Unlock()
		return
	}
	row := c.rows[idx]

	var rowErr error
	switch r.Outcome {
	case render.Applied:
		delete(c.failedRows, idx)
	case render.Failed:
		failed := true
		for _, s := range row.Real() {
			if s.Failed() == nil {
				failed = false
				break
			}
		}
		if failed && !c.failedRows[idx] {
			c.failedRows[idx] = true
			rowErr = &RowError{Row: row.Index, Pages: rowPages(row), Err: r.Err}
		}
	}
	c.mu.Unlock()

	if rowErr != nil {
		c.log.Printf("[!] %v", rowErr)
		c.emitError(rowErr)
	}
}

func (c *Controller) emitError(err error) {
	c.mu.Lock()
	callbacks := append([]func(error){}, c.onError...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(err)
	}
}

func rowPages(r layout.Row) []int {
	out := make([]int, len(r.Slots))
	for i, s := range r.Slots {
		out[i] = s.Page
	}
	return out
}

// materializer lets the tracker drive rendering without exposing the
// methods on Controller.
type materializer Controller

func (m *materializer) Materialize(s *slot.Slot) {
	c := (*Controller)(m)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed || c.coord == nil {
		return
	}
	c.coord.Go(s, c.renderOptionsLocked())
}

func (m *materializer) Discard(s *slot.Slot) {
	c := (*Controller)(m)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.coord != nil {
		c.coord.Discard(s)
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentPage is 0 while no document is open.
func (c *Controller) CurrentPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return 0
	}
	return c.view.Page
}

func (c *Controller) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// Pages returns the intrinsic size of every page.
func (c *Controller) Pages() []geometry.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]geometry.Size(nil), c.sizes...)
}

// ViewerState returns the state that is persisted for the document.
func (c *Controller) ViewerState() store.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Rows lists the page numbers of every row, 0 marking a pad.
func (c *Controller) Rows() [][]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]int, len(c.rows))
	for i, r := range c.rows {
		out[i] = rowPages(r)
	}
	return out
}

// Slots returns every slot in row order, pads included.
func (c *Controller) Slots() []*slot.Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slotsLocked()
}

func (c *Controller) Slot(page int) (*slot.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page < 1 || page > len(c.pages) {
		return nil, &InvalidPageError{Page: page, Count: len(c.pages)}
	}
	return c.pages[page-1], nil
}

// Visible returns the slots currently in the viewport.
func (c *Controller) Visible() []*slot.Slot {
	return c.tracker.Visible()
}

func (c *Controller) Stats() render.Stats {
	c.mu.Lock()
	coord := c.coord
	c.mu.Unlock()
	if coord == nil {
		return render.Stats{}
	}
	return coord.Stats()
}

// Wait blocks until no render is running.
func (c *Controller) Wait() {
	c.mu.Lock()
	coord := c.coord
	c.mu.Unlock()
	if coord != nil {
		coord.Wait()
	}
}
