package studio

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	// MaxProductImages is the number of product slots, numbered 1..MaxProductImages.
	MaxProductImages = 3
	// StyleReferenceSlot identifies the single style reference image.
	StyleReferenceSlot = 999
)

var ErrSlotOutOfRange = errors.New("image slot out of range")

type UploadedImage struct {
	Slot     int
	Filename string
	MIMEType string
	Data     []byte
	Preview  string
}

// Previews hands out short-lived tokens that front-ends use to display an
// uploaded image. A token lives from the moment its image is attached until
// the image is replaced or removed.
type Previews struct {
	mu sync.Mutex
	m  map[string]previewEntry
}

type previewEntry struct {
	data     []byte
	mimeType string
}

func NewPreviews() *Previews {
	return &Previews{m: make(map[string]previewEntry)}
}

func (p *Previews) Create(data []byte, mimeType string) string {
	token := uuid.NewString()
	p.mu.Lock()
	p.m[token] = previewEntry{data: data, mimeType: mimeType}
	p.mu.Unlock()
	return token
}

func (p *Previews) Revoke(token string) {
	if token == "" {
		return
	}
	p.mu.Lock()
	delete(p.m, token)
	p.mu.Unlock()
}

func (p *Previews) Open(token string) ([]byte, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[token]
	if !ok {
		return nil, "", false
	}
	return e.data, e.mimeType, true
}

// Len reports the number of live tokens.
func (p *Previews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// DetectMIME trusts a declared image type and otherwise sniffs the bytes,
// falling back to JPEG like camera uploads usually are.
func DetectMIME(declared string, data []byte) string {
	mimeType := strings.TrimSpace(declared)
	if strings.Contains(mimeType, ";") {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if strings.Contains(mimeType, ";") {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/jpeg"
	}
	return mimeType
}
