package studio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

type GeneratedImage struct {
	ID        string    `json:"id"`
	ImageURI  string    `json:"image_uri"`
	MIMEType  string    `json:"mime_type"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// Bytes decodes an embedded data URI. Remote URIs are not fetched.
func (g GeneratedImage) Bytes() ([]byte, error) {
	_, data, err := DecodeDataURI(g.ImageURI)
	return data, err
}

// History keeps generated images most-recent-first with one optional active
// entry. It is not safe for concurrent use; Session serialises access.
type History struct {
	items  []GeneratedImage
	active string
	max    int
}

// NewHistory creates a history holding at most max entries; max <= 0 means
// unbounded.
func NewHistory(max int) *History {
	return &History{max: max}
}

// Add prepends item and makes it active. When the bound is exceeded the
// oldest entries are evicted.
func (h *History) Add(item GeneratedImage) {
	h.items = removeByID(h.items, item.ID)
	h.items = append([]GeneratedImage{item}, h.items...)
	h.active = item.ID

	if h.max > 0 && len(h.items) > h.max {
		for _, evicted := range h.items[h.max:] {
			if evicted.ID == h.active {
				h.active = ""
			}
		}
		h.items = h.items[:h.max]
	}
}

// Remove deletes id and clears the active pointer only if it pointed at id.
func (h *History) Remove(id string) bool {
	n := len(h.items)
	h.items = removeByID(h.items, id)
	if len(h.items) == n {
		return false
	}
	if h.active == id {
		h.active = ""
	}
	return true
}

func (h *History) Select(id string) bool {
	for _, it := range h.items {
		if it.ID == id {
			h.active = id
			return true
		}
	}
	return false
}

func (h *History) Active() (GeneratedImage, bool) {
	if h.active == "" {
		return GeneratedImage{}, false
	}
	for _, it := range h.items {
		if it.ID == h.active {
			return it, true
		}
	}
	return GeneratedImage{}, false
}

func (h *History) Get(id string) (GeneratedImage, bool) {
	for _, it := range h.items {
		if it.ID == id {
			return it, true
		}
	}
	return GeneratedImage{}, false
}

func (h *History) Items() []GeneratedImage {
	out := make([]GeneratedImage, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Len() int {
	return len(h.items)
}

func (h *History) Clear() {
	h.items = nil
	h.active = ""
}

func removeByID(items []GeneratedImage, id string) []GeneratedImage {
	out := items[:0:0]
	for _, it := range items {
		if it.ID == id {
			continue
		}
		out = append(out, it)
	}
	return out
}

func DataURI(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func DecodeDataURI(value string) (mimeType string, data []byte, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil, errors.New("empty data uri")
	}

	const prefix = "data:"
	if !strings.HasPrefix(value, prefix) {
		return "", nil, errors.New("not a data uri")
	}

	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return "", nil, errors.New("invalid data uri")
	}

	meta := strings.TrimPrefix(parts[0], prefix)
	metaParts := strings.Split(meta, ";")
	mimeType = strings.TrimSpace(metaParts[0])
	if mimeType == "" {
		mimeType = "image/png"
	}

	data, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	return mimeType, data, nil
}
