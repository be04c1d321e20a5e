package generate

import (
	"errors"
	"fmt"

	"nicrolabs-studio/internal/studio"
)

var (
	ErrInFlight      = studio.ErrInFlight
	ErrInputRequired = errors.New("at least one product image and a non-empty instruction are required")
	ErrNoImage       = errors.New("no image data found in response")
	ErrNoContent     = errors.New("no content generated")
)

// RefusalError is returned when the model answered with text instead of an
// image, usually a safety refusal or a clarifying question.
type RefusalError struct {
	Text string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("model returned text instead of image: %s", e.Text)
}
