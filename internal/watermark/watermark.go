package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const (
	DefaultText  = "Nicrolabs.AI"
	DefaultLabel = "DEMO MODE"

	wordmarkScale = 0.08
	labelScale    = 0.4
	labelMargin   = 20
	jpegQuality   = 92
)

var (
	wordmarkFill   = color.NRGBA{R: 255, G: 255, B: 255, A: 89}
	wordmarkStroke = color.NRGBA{A: 51}
	labelFill      = color.NRGBA{R: 255, G: 255, B: 255, A: 153}
)

type Options struct {
	Text  string
	Label string
}

// Stamper marks images produced for guest sessions. It is safe for
// concurrent use.
type Stamper struct {
	font  *opentype.Font
	text  string
	label string
}

func New(opts Options) (*Stamper, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		text = DefaultText
	}
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = DefaultLabel
	}
	return &Stamper{font: f, text: text, label: label}, nil
}

// Apply draws the rotated wordmark across the centre and the label in the
// bottom-right corner. The result keeps the source dimensions; JPEG stays
// JPEG and everything else is written as PNG.
func (s *Stamper) Apply(data []byte) ([]byte, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, "", fmt.Errorf("empty image %dx%d", w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	size := math.Max(math.Floor(float64(w)*wordmarkScale), 6)
	if err := s.drawWordmark(dst, size); err != nil {
		return nil, "", err
	}
	if err := s.drawLabel(dst, size*labelScale); err != nil {
		return nil, "", err
	}

	var out bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		return out.Bytes(), "image/jpeg", nil
	}
	if err := png.Encode(&out, dst); err != nil {
		return nil, "", fmt.Errorf("encode png: %w", err)
	}
	return out.Bytes(), "image/png", nil
}

func (s *Stamper) face(size float64) (font.Face, error) {
	face, err := opentype.NewFace(s.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("font face: %w", err)
	}
	return face, nil
}

// textMask renders text as an alpha mask with pad pixels of room on each side.
func textMask(face font.Face, text string, pad int) *image.Alpha {
	m := face.Metrics()
	tw := font.MeasureString(face, text).Ceil()
	th := (m.Ascent + m.Descent).Ceil()

	mask := image.NewAlpha(image.Rect(0, 0, tw+2*pad, th+2*pad))
	d := font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(pad, pad+m.Ascent.Ceil()),
	}
	d.DrawString(text)
	return mask
}

func (s *Stamper) drawWordmark(dst *image.RGBA, size float64) error {
	face, err := s.face(size)
	if err != nil {
		return err
	}
	defer face.Close()

	const pad = 2
	mask := textMask(face, s.text, pad)
	r := mask.Bounds()

	layer := image.NewRGBA(r)
	stroke := image.NewUniform(wordmarkStroke)
	for _, off := range []image.Point{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		draw.DrawMask(layer, r.Add(off), stroke, image.Point{}, mask, r.Min, draw.Over)
	}
	draw.DrawMask(layer, r, image.NewUniform(wordmarkFill), image.Point{}, mask, r.Min, draw.Over)

	// Rotate -30deg about the layer centre and place it on the image centre.
	theta := -math.Pi / 6
	sin, cos := math.Sincos(theta)
	scx, scy := float64(r.Dx())/2, float64(r.Dy())/2
	dcx, dcy := float64(dst.Bounds().Dx())/2, float64(dst.Bounds().Dy())/2
	m := f64.Aff3{
		cos, -sin, dcx - (cos*scx - sin*scy),
		sin, cos, dcy - (sin*scx + cos*scy),
	}
	draw.BiLinear.Transform(dst, m, layer, r, draw.Over, nil)
	return nil
}

func (s *Stamper) drawLabel(dst *image.RGBA, size float64) error {
	face, err := s.face(math.Max(size, 4))
	if err != nil {
		return err
	}
	defer face.Close()

	b := dst.Bounds()
	tw := font.MeasureString(face, s.label)
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelFill),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(b.Max.X-labelMargin) - tw, Y: fixed.I(b.Max.Y - labelMargin)},
	}
	d.DrawString(s.label)
	return nil
}
