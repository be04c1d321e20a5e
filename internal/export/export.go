package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nicrolabs-studio/internal/studio"
)

const DefaultPrefix = "nicrolabs-ai"

// Exporter stores a finished image under name and reports where it went.
type Exporter interface {
	Export(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// Filename builds "<prefix>-<token>.<ext>".
func Filename(prefix, token, mimeType string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s-%s.%s", prefix, token, Extension(mimeType))
}

func Extension(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	}
	return "png"
}

// NameFor names a history entry after its creation time in milliseconds.
func NameFor(prefix string, img studio.GeneratedImage) string {
	return Filename(prefix, strconv.FormatInt(img.CreatedAt.UnixMilli(), 10), img.MIMEType)
}

// Image exports a history entry with e.
func Image(ctx context.Context, e Exporter, prefix string, img studio.GeneratedImage) (string, error) {
	data, err := img.Bytes()
	if err != nil {
		return "", fmt.Errorf("result %s: %w", img.ID, err)
	}
	return e.Export(ctx, NameFor(prefix, img), img.MIMEType, data)
}

// Dir writes exports into a local directory.
type Dir struct {
	Root string
}

func (d Dir) Export(_ context.Context, name, _ string, data []byte) (string, error) {
	root := strings.TrimSpace(d.Root)
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(root, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}
