package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/pdfview/internal/fit"
	"github.com/ivlev/pdfview/internal/geometry"
	"github.com/ivlev/pdfview/internal/layout"
	"github.com/ivlev/pdfview/internal/render"
	"github.com/ivlev/pdfview/internal/source"
	"github.com/ivlev/pdfview/internal/store"
	"github.com/ivlev/pdfview/internal/viewport"
)

type renderCall struct {
	Page  int
	Scale float64
}

// fakeDoc is a decoder of equally sized gray pages.
type fakeDoc struct {
	sizes []geometry.Size
	fail  map[int]bool
	gate  chan struct{}

	mu     sync.Mutex
	calls  []renderCall
	closed bool
}

func newDoc(n int) *fakeDoc {
	d := &fakeDoc{fail: make(map[int]bool)}
	for i := 0; i < n; i++ {
		d.sizes = append(d.sizes, geometry.Size{Width: 600, Height: 800})
	}
	return d
}

func (d *fakeDoc) PageCount() int { return len(d.sizes) }

func (d *fakeDoc) PageDimensions(page int) (geometry.Size, error) {
	if page < 1 || page > len(d.sizes) {
		return geometry.Size{}, source.ErrPageRange
	}
	return d.sizes[page-1], nil
}

func (d *fakeDoc) RenderPage(ctx context.Context, page int, opts source.RenderOptions) (image.Image, error) {
	d.mu.Lock()
	d.calls = append(d.calls, renderCall{Page: page, Scale: opts.Scale})
	d.mu.Unlock()

	if d.gate != nil {
		<-d.gate
	}
	if d.fail[page] {
		return nil, fmt.Errorf("broken page %d", page)
	}
	size := d.sizes[page-1].Scale(opts.Scale)
	img := image.NewGray(image.Rect(0, 0, int(math.Ceil(size.Width)), int(math.Ceil(size.Height))))
	for i := range img.Pix {
		img.Pix[i] = 0xcc
	}
	return source.Orient(img, opts.Rotation), nil
}

func (d *fakeDoc) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDoc) renders(page int, scale float64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Page == page && c.Scale == scale {
			n++
		}
	}
	return n
}

func (d *fakeDoc) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 0
	return cfg
}

// openViewer opens doc in a 1216x900 headless viewport.
func openViewer(t *testing.T, doc *fakeDoc, opts ...Option) (*Controller, *viewport.Headless) {
	t.Helper()
	vp := viewport.NewHeadless(1216, 900)
	c := New(vp, append([]Option{WithConfig(testConfig())}, opts...)...)
	vp.Attach(c.HandleIntersections, c.Slots)
	require.NoError(t, c.Open(context.Background(), "doc.pdf", doc))
	c.Wait()
	return c, vp
}

func TestOperationsRequireReady(t *testing.T) {
	c := New(viewport.NewHeadless(100, 100))

	var stateErr *InvalidStateError
	for name, err := range map[string]error{
		"scale":    c.SetScale(2),
		"layout":   c.SetLayout(layout.DualStart),
		"rotation": c.SetRotation(90),
		"color":    c.SetColor(render.Original),
		"navigate": c.NavigateTo(1),
		"fit":      c.ScaleToFit(fit.Width),
		"close":    c.Close(),
	} {
		require.ErrorAs(t, err, &stateErr, name)
		assert.Equal(t, Closed, stateErr.State, name)
	}
	assert.Equal(t, 0, c.CurrentPage())
}

func TestOpenRendersVisiblePages(t *testing.T) {
	doc := newDoc(10)
	c, _ := openViewer(t, doc)

	assert.Equal(t, Ready, c.State())
	assert.Equal(t, 10, c.PageCount())
	assert.Equal(t, 1, c.CurrentPage())
	assert.Len(t, c.Pages(), 10)

	var visible []int
	for _, s := range c.Visible() {
		visible = append(visible, s.Page)
	}
	assert.Equal(t, []int{1, 2}, visible)

	for page := 1; page <= 3; page++ {
		s, err := c.Slot(page)
		require.NoError(t, err)
		assert.Equal(t, page <= 2, s.HasSurface(), "page %d", page)
	}

	err := c.Open(context.Background(), "other.pdf", newDoc(1))
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, Ready, stateErr.State)
}

func TestCloseReleasesEverything(t *testing.T) {
	doc := newDoc(4)
	c, _ := openViewer(t, doc)
	first, err := c.Slot(1)
	require.NoError(t, err)
	require.True(t, first.HasSurface())

	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
	assert.False(t, first.HasSurface())
	assert.True(t, doc.isClosed())
	assert.Equal(t, 0, c.PageCount())

	// the controller can open again
	require.NoError(t, c.Open(context.Background(), "doc.pdf", newDoc(2)))
	assert.Equal(t, 2, c.PageCount())
}

func TestOpenEmptyDocument(t *testing.T) {
	doc := newDoc(0)
	c := New(viewport.NewHeadless(100, 100))

	err := c.Open(context.Background(), "empty.pdf", doc)
	require.ErrorIs(t, err, ErrEmptyDocument)
	assert.Equal(t, Closed, c.State())
	assert.True(t, doc.isClosed())
}

func TestSetLayoutKeepsRealSurfaces(t *testing.T) {
	cfg := testConfig()
	cfg.Layout = layout.DualStart
	c, _ := openViewer(t, newDoc(10), WithConfig(cfg))

	rows := c.Rows()
	require.Len(t, rows, 5)
	assert.Equal(t, []int{5, 6}, rows[2])

	first, _ := c.Slot(1)
	before := first.Surface()
	require.NotNil(t, before)

	require.NoError(t, c.SetLayout(layout.DualEnd))
	c.Wait()

	rows = c.Rows()
	require.Len(t, rows, 6)
	assert.Equal(t, []int{0, 1}, rows[0])
	assert.Equal(t, []int{4, 5}, rows[2])
	assert.Same(t, before, first.Surface(), "page 1 must not be re-rendered")
	assert.Equal(t, layout.DualEnd, c.ViewerState().Layout)

	for _, s := range c.Slots() {
		if s.Page == 0 {
			assert.False(t, s.HasSurface(), "dummy slot with a surface")
		}
	}
	for _, s := range c.Visible() {
		assert.NotZero(t, s.Page, "dummy slot reported visible")
	}
}

func TestDummiesFollowScaleAndRotation(t *testing.T) {
	cfg := testConfig()
	cfg.Layout = layout.DualEnd
	c, _ := openViewer(t, newDoc(10), WithConfig(cfg))

	slots := c.Slots()
	lead, trail := slots[0], slots[len(slots)-1]
	require.Zero(t, lead.Page)
	require.Zero(t, trail.Page)
	first, _ := c.Slot(1)
	second, _ := c.Slot(2)

	require.NoError(t, c.SetScale(0.5))
	assert.Equal(t, geometry.Size{Width: 300, Height: 400}, lead.Visual())
	assert.Equal(t, first.Visual(), lead.Visual())
	assert.Equal(t, geometry.Size{Width: 300, Height: 400}, trail.Visual())
	assert.Equal(t, 416.0, second.Span().Top)

	require.NoError(t, c.SetRotation(90))
	assert.Equal(t, geometry.Size{Width: 400, Height: 300}, lead.Visual())
	assert.Equal(t, geometry.Size{Width: 400, Height: 300}, trail.Visual())
	assert.Equal(t, 316.0, second.Span().Top)
}

func TestSetScaleIsIdempotent(t *testing.T) {
	doc := newDoc(10)
	c, _ := openViewer(t, doc)

	var scales []float64
	c.OnScaleChanged(func(s float64) { scales = append(scales, s) })

	require.NoError(t, c.SetScale(0.5))
	require.NoError(t, c.SetScale(0.5))
	c.Wait()

	assert.Equal(t, []float64{0.5}, scales)
	for page := 1; page <= 10; page++ {
		assert.LessOrEqual(t, doc.renders(page, 0.5), 1, "page %d", page)
	}
	assert.Equal(t, 1, doc.renders(1, 0.5))

	s, _ := c.Slot(1)
	assert.Equal(t, 0.5, s.Surface().Scale)

	require.ErrorIs(t, c.SetScale(0), ErrInvalidScale)
	require.ErrorIs(t, c.SetScale(math.Inf(1)), ErrInvalidScale)
}

func TestRapidScaleChangesApplyNewest(t *testing.T) {
	doc := newDoc(10)
	c, _ := openViewer(t, doc)

	doc.gate = make(chan struct{})
	require.NoError(t, c.SetScale(0.5))
	require.NoError(t, c.SetScale(0.75))
	close(doc.gate)
	c.Wait()

	for _, page := range []int{1, 2} {
		s, _ := c.Slot(page)
		surf := s.Surface()
		require.NotNil(t, surf, "page %d", page)
		assert.Equal(t, 0.75, surf.Scale, "page %d", page)
		assert.Equal(t, s.Generation(), surf.Generation, "page %d", page)
	}
	third, _ := c.Slot(3)
	assert.False(t, third.HasSurface(), "page 3 left the viewport")
}

func TestSetRotation(t *testing.T) {
	c, _ := openViewer(t, newDoc(3))

	require.NoError(t, c.SetRotation(90))
	c.Wait()

	s, _ := c.Slot(1)
	assert.Equal(t, geometry.Size{Width: 800, Height: 600}, s.Visual())
	assert.Equal(t, image.Pt(800, 600), s.Surface().Image.Bounds().Size())

	require.NoError(t, c.SetRotation(-270))
	assert.Equal(t, 90, c.ViewerState().Rotation)

	require.ErrorIs(t, c.SetRotation(45), geometry.ErrRotation)
}

func TestScaleToFit(t *testing.T) {
	cfg := testConfig()
	cfg.Layout = layout.DualStart
	cfg.Scale = 0.5
	c, _ := openViewer(t, newDoc(10), WithConfig(cfg))

	require.NoError(t, c.ScaleToFit(fit.Width))
	assert.Equal(t, 1.0, c.ViewerState().Scale)
	assert.Equal(t, fit.Width, c.ViewerState().Fit)

	// the fit policy follows rotation
	require.NoError(t, c.SetRotation(90))
	assert.InDelta(t, 1216.0/1616.0, c.ViewerState().Scale, 1e-9)

	require.NoError(t, c.ScaleToFit(fit.Height))
	assert.InDelta(t, 900.0/600.0, c.ViewerState().Scale, 1e-9)
}

func TestFitOnDegenerateRow(t *testing.T) {
	doc := newDoc(2)
	doc.sizes[0] = geometry.Size{Width: 0, Height: 800}
	c, _ := openViewer(t, doc)

	err := c.ScaleToFit(fit.Page)
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 1, rowErr.Row)
	assert.ErrorIs(t, err, fit.ErrDegenerateRow)
	assert.Equal(t, 1.0, c.ViewerState().Scale)

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, 1, decErr.Page)
}

func TestRowErrorWhenWholeRowFails(t *testing.T) {
	doc := newDoc(6)
	doc.fail[1] = true
	doc.fail[2] = true
	doc.fail[3] = true

	cfg := testConfig()
	cfg.Layout = layout.DualStart
	var mu sync.Mutex
	var errs []error

	vp := viewport.NewHeadless(1216, 900)
	c := New(vp, WithConfig(cfg))
	c.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})
	vp.Attach(c.HandleIntersections, c.Slots)
	require.NoError(t, c.Open(context.Background(), "doc.pdf", doc))
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1, "only row 1 failed completely")

	var rowErr *RowError
	require.ErrorAs(t, errs[0], &rowErr)
	assert.Equal(t, 1, rowErr.Row)
	assert.Equal(t, []int{1, 2}, rowErr.Pages)

	var decErr *DecodeError
	assert.True(t, errors.As(errs[0], &decErr))

	fourth, _ := c.Slot(4)
	assert.True(t, fourth.HasSurface(), "sibling of a failed page still renders")
}

func TestNavigateTo(t *testing.T) {
	c, vp := openViewer(t, newDoc(10))

	var pages []int
	c.OnCurrentPageChanged(func(p int) { pages = append(pages, p) })

	var pageErr *InvalidPageError
	require.ErrorAs(t, c.NavigateTo(11), &pageErr)
	assert.Equal(t, 10, pageErr.Count)
	require.ErrorAs(t, c.NavigateTo(0), &pageErr)

	require.NoError(t, c.NavigateTo(5))
	assert.Equal(t, 4*816.0, vp.Offset())
	assert.Equal(t, []int{5}, pages)
	assert.Equal(t, 5, c.CurrentPage())

	vp.Scroll(-816)
	assert.Equal(t, []int{5, 4}, pages)
}

func TestRestyleRerendersVisible(t *testing.T) {
	c, _ := openViewer(t, newDoc(4))
	sepia, err := render.LookupScheme("sepia")
	require.NoError(t, err)

	require.NoError(t, c.SetColor(sepia))
	require.NoError(t, c.SetFlip(true))
	c.Wait()

	s, _ := c.Slot(1)
	surf := s.Surface()
	require.NotNil(t, surf)
	assert.Equal(t, sepia.Background, surf.Background)
	assert.True(t, surf.Flip)
	assert.Equal(t, sepia, c.ViewerState().Color)
}

func TestStatePersists(t *testing.T) {
	st := store.NewMemoryStore()
	c, _ := openViewer(t, newDoc(10), WithStore(st))

	require.NoError(t, c.SetScale(0.5))
	require.NoError(t, c.SetLayout(layout.DualEnd))
	require.NoError(t, c.SetRotation(180))
	require.NoError(t, c.NavigateTo(7))
	page := c.CurrentPage()
	require.Greater(t, page, 1)
	require.NoError(t, c.Close())

	saved, ok, err := st.Load("doc.pdf")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.State{
		Layout:   layout.DualEnd,
		Scale:    0.5,
		Rotation: 180,
		Color:    render.Original,
		Page:     page,
		Fit:      fit.None,
	}, saved)
	assert.GreaterOrEqual(t, st.Saves(), 4)

	again, _ := openViewer(t, newDoc(10), WithStore(st))
	assert.Equal(t, saved, again.ViewerState())
	assert.Equal(t, page, again.CurrentPage())
}

func TestRestoreClampsPage(t *testing.T) {
	st := store.NewMemoryStore()
	st.Save("doc.pdf", store.State{Layout: layout.Single, Scale: -3, Rotation: 45, Page: 99})

	c, _ := openViewer(t, newDoc(3), WithStore(st))
	view := c.ViewerState()
	assert.Equal(t, 3, view.Page)
	assert.Equal(t, 1.0, view.Scale)
	assert.Equal(t, 0, view.Rotation)
}

func TestOpenKeepsRestoredPage(t *testing.T) {
	st := store.NewMemoryStore()
	st.Save("doc.pdf", store.State{Layout: layout.Single, Scale: 1, Page: 3, Fit: fit.None})

	// tall enough for pages 2 and 3 to be fully visible at once
	vp := viewport.NewHeadless(1216, 2000)
	c := New(vp, WithConfig(testConfig()), WithStore(st))
	vp.Attach(c.HandleIntersections, c.Slots)
	var pages []int
	c.OnCurrentPageChanged(func(p int) { pages = append(pages, p) })

	require.NoError(t, c.Open(context.Background(), "doc.pdf", newDoc(3)))
	c.Wait()

	assert.Equal(t, 432.0, vp.Offset())
	assert.Equal(t, 3, c.CurrentPage())
	assert.Empty(t, pages)
	for _, page := range []int{2, 3} {
		s, _ := c.Slot(page)
		assert.True(t, s.HasSurface(), "page %d", page)
	}

	vp.Scroll(-1)
	assert.Equal(t, []int{2}, pages)
}

func TestCallbackMayReenter(t *testing.T) {
	c, vp := openViewer(t, newDoc(10))

	var once sync.Once
	c.OnCurrentPageChanged(func(p int) {
		once.Do(func() {
			assert.NoError(t, c.SetLayout(layout.DualStart))
			assert.NoError(t, c.SetScale(0.5))
		})
	})

	require.NoError(t, c.NavigateTo(5))
	c.Wait()

	assert.Equal(t, layout.DualStart, c.ViewerState().Layout)
	assert.Equal(t, 0.5, c.ViewerState().Scale)
	assert.Equal(t, 832.0, vp.Offset())
	assert.Equal(t, 5, c.CurrentPage())

	seventh, _ := c.Slot(7)
	require.True(t, seventh.HasSurface())
	assert.Equal(t, 0.5, seventh.Surface().Scale)
}
