//go:build !linux

// Package device captures the local camera and microphone.
package device

import (
	"context"
	"fmt"

	"github.com/dkeye/vocalize/internal/app/media"
	"github.com/dkeye/vocalize/internal/domain"
)

// Capturer has no drivers on this platform; use media files instead.
type Capturer struct {
	Width, Height int
	VideoBitRate  int
}

func NewCapturer() *Capturer {
	return &Capturer{}
}

func (c *Capturer) Capture(_ context.Context) ([]media.Source, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", domain.ErrMediaUnavailable)
}
