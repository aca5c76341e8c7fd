package viewer

import (
	"errors"
	"fmt"

	"github.com/ivlev/pdfview/internal/layout"
	"github.com/ivlev/pdfview/internal/render"
)

var (
	// ErrEmptyDocument is returned by Open for a document without pages.
	ErrEmptyDocument = errors.New("document has no pages")
	// ErrInvalidScale is returned for scales that are not finite and positive.
	ErrInvalidScale = errors.New("scale must be finite and positive")
)

// InvalidPageError reports a page number outside the open document.
type InvalidPageError = layout.InvalidPageError

// DecodeError reports a page the decoder could not render.
type DecodeError = render.DecodeError

// InvalidStateError is returned by operations called outside the state they
// require.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: viewer is %s", e.Op, e.State)
}

// RowError is a decode failure of a whole row: every real page in it failed
// to render, or its sizes cannot produce a fit scale. Err is a *DecodeError
// in both cases.
type RowError struct {
	Row   int
	Pages []int
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d %v: %v", e.Row, e.Pages, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}
