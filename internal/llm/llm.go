// Package llm adapts the text and image model APIs used to write newsletters.
package llm

import (
	"context"
	"errors"
)

// Prompt is a single-turn request to a text model.
type Prompt struct {
	System string
	User   string
}

// TextGenerator produces text for a prompt.
type TextGenerator interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Image is a generated picture.
type Image struct {
	Data     []byte
	MIMEType string
}

// ImageGenerator renders one image from a description.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*Image, error)
}

var (
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrMissingAPIKey = errors.New("llm: api key is required")
	ErrImageFiltered = errors.New("llm: image blocked by safety filter")
)
