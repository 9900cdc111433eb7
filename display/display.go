// Package display shows intermediate images to a person and waits for them
// to move on, the way an interactive image window waits for a key press.
package display

import (
	"context"
	"image"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Show after Close.
var ErrClosed = errors.New("display closed")

// Display shows an image in a named window and blocks until it is
// acknowledged or ctx ends.
type Display interface {
	Show(ctx context.Context, window string, img image.Image) error
	Close() error
}

// Nop discards images and returns immediately.
type Nop struct{}

func (Nop) Show(ctx context.Context, window string, img image.Image) error {
	return ctx.Err()
}

func (Nop) Close() error { return nil }
