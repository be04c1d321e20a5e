package generate

import "strings"

// Part is one piece of a model response.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

func (p Part) IsImage() bool {
	return len(p.Data) > 0
}

// ParseResponse returns the first inline image. Without one, the first text
// part becomes a RefusalError.
func ParseResponse(parts []Part) (Part, error) {
	if len(parts) == 0 {
		return Part{}, ErrNoContent
	}

	var text string
	for _, p := range parts {
		if p.IsImage() {
			if p.MIMEType == "" {
				p.MIMEType = "image/png"
			}
			return p, nil
		}
		if t := strings.TrimSpace(p.Text); t != "" && text == "" {
			text = t
		}
	}

	if text != "" {
		return Part{}, &RefusalError{Text: text}
	}
	return Part{}, ErrNoImage
}
