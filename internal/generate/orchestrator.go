package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/prompt"
	"nicrolabs-studio/internal/studio"
)

// InlineImage is an input image in the order the model receives it.
type InlineImage struct {
	Label    string
	MIMEType string
	Data     []byte
}

type Request struct {
	Tier         Tier
	Prompt       string
	Images       []InlineImage
	AspectRatio  catalog.AspectRatio
	HighFidelity bool
}

// Model is the remote image model.
type Model interface {
	GenerateImage(ctx context.Context, req Request) ([]Part, error)
}

// Stamper post-processes guest results.
type Stamper interface {
	Apply(data []byte) ([]byte, string, error)
}

// Metrics receives one record per settled generation.
type Metrics interface {
	RecordGeneration(ctx context.Context, tier, outcome string, elapsed time.Duration)
}

type Options struct {
	Model          Model
	Catalog        *catalog.Catalog
	Composer       *prompt.Composer
	Stamper        Stamper
	Policy         TierPolicy
	Metrics        Metrics
	StatusInterval time.Duration
	Timeout        time.Duration
	// OnStatus is called with every progress message of a request.
	OnStatus func(sessionID, msg string)
	Logger   *slog.Logger
}

type Orchestrator struct {
	model          Model
	catalog        *catalog.Catalog
	composer       *prompt.Composer
	stamper        Stamper
	policy         TierPolicy
	metrics        Metrics
	statusInterval time.Duration
	timeout        time.Duration
	onStatus       func(sessionID, msg string)
	logger         *slog.Logger
	now            func() time.Time
}

func New(opts Options) *Orchestrator {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	composer := opts.Composer
	if composer == nil {
		composer = prompt.New(cat)
	}
	policy := opts.Policy
	if policy == nil {
		policy = DefaultTierPolicy
	}
	interval := opts.StatusInterval
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Orchestrator{
		model:          opts.Model,
		catalog:        cat,
		composer:       composer,
		stamper:        opts.Stamper,
		policy:         policy,
		metrics:        opts.Metrics,
		statusInterval: interval,
		timeout:        opts.Timeout,
		onStatus:       opts.OnStatus,
		logger:         logger,
		now:            time.Now,
	}
}

func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog
}

// Validate reports whether a snapshot can be generated from.
func Validate(snap studio.Snapshot) error {
	if len(snap.Products) == 0 || !snap.Selection.HasInstruction() {
		return ErrInputRequired
	}
	return nil
}

// Generate runs one request for sess. A session that already has a request in
// flight gets ErrInFlight and is left alone; so is one with missing input.
// Every other outcome is recorded on the session before Generate returns.
func (o *Orchestrator) Generate(ctx context.Context, sess *studio.Session) (studio.GeneratedImage, error) {
	if o.model == nil {
		return studio.GeneratedImage{}, errors.New("image model is not configured")
	}

	snap, err := sess.Begin(Validate)
	if err != nil {
		return studio.GeneratedImage{}, err
	}

	start := o.now()
	logger := o.logger.With("session_id", sess.ID, "guest", snap.Guest)

	rot := startRotation(ctx, o.catalog.StatusMessages(), o.statusInterval, func(msg string) {
		sess.SetStatus(msg)
		if o.onStatus != nil {
			o.onStatus(sess.ID, msg)
		}
	})
	defer rot.Close()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	tier := o.policy(o.catalog.AspectRatio(snap.Selection.FormatID), snap.Selection.HighFidelity)
	img, err := o.run(ctx, sess, snap, tier, rot, logger)
	rot.Close()

	elapsed := o.now().Sub(start)
	if err != nil {
		sess.Fail(err.Error())
		logger.Warn("generation failed", "tier", tier, "err", err, "elapsed", elapsed)
		o.record(ctx, tier, outcomeOf(err), elapsed)
		return studio.GeneratedImage{}, err
	}

	sess.Succeed(img)
	logger.Info("generation finished", "tier", tier, "result_id", img.ID, "mime_type", img.MIMEType, "elapsed", elapsed)
	o.record(ctx, tier, "success", elapsed)
	return img, nil
}

func (o *Orchestrator) run(ctx context.Context, sess *studio.Session, snap studio.Snapshot, tier Tier, rot *rotator, logger *slog.Logger) (studio.GeneratedImage, error) {
	images, err := encodeImages(ctx, snap)
	if err != nil {
		return studio.GeneratedImage{}, err
	}

	aspect := o.catalog.AspectRatio(snap.Selection.FormatID)
	text := o.composer.Compose(prompt.FromSnapshot(snap))
	logger.Debug("prompt composed", "tier", tier, "aspect_ratio", aspect, "images", len(images), "prompt_len", len(text))

	sess.Advance(studio.PhaseAwaitingModel)
	parts, err := o.model.GenerateImage(ctx, Request{
		Tier:         tier,
		Prompt:       text,
		Images:       images,
		AspectRatio:  aspect,
		HighFidelity: snap.Selection.HighFidelity,
	})
	if err != nil {
		return studio.GeneratedImage{}, fmt.Errorf("generate image: %w", err)
	}

	out, err := ParseResponse(parts)
	if err != nil {
		return studio.GeneratedImage{}, err
	}

	data, mimeType := out.Data, out.MIMEType
	if snap.Guest && o.stamper != nil {
		sess.Advance(studio.PhasePostProcessing)
		rot.Pin(o.catalog.WatermarkStatus())

		marked, markedType, err := o.stamper.Apply(data)
		if err != nil {
			// A result without a watermark beats no result.
			logger.Warn("watermark failed, keeping original image", "err", err)
		} else {
			data, mimeType = marked, markedType
		}
	}

	return studio.GeneratedImage{
		ID:        newID(),
		ImageURI:  studio.DataURI(mimeType, data),
		MIMEType:  mimeType,
		Prompt:    snap.Selection.Instruction,
		CreatedAt: o.now(),
	}, nil
}

// encodeImages prepares product images in slot order followed by the style
// reference. Media types are sniffed from the bytes.
func encodeImages(ctx context.Context, snap studio.Snapshot) ([]InlineImage, error) {
	sources := append([]studio.UploadedImage(nil), snap.Products...)
	if snap.StyleReference != nil {
		sources = append(sources, *snap.StyleReference)
	}

	out := make([]InlineImage, len(sources))
	g, _ := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if len(src.Data) == 0 {
				return fmt.Errorf("%s: empty image", prompt.ImageLabel(src.Slot))
			}
			mimeType := studio.DetectMIME(src.MIMEType, src.Data)
			if sniffed := http.DetectContentType(src.Data); strings.HasPrefix(sniffed, "image/") {
				mimeType = sniffed
			}
			if !strings.HasPrefix(mimeType, "image/") {
				return fmt.Errorf("%s: unsupported media type %q", prompt.ImageLabel(src.Slot), mimeType)
			}
			out[i] = InlineImage{
				Label:    prompt.ImageLabel(src.Slot),
				MIMEType: mimeType,
				Data:     src.Data,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) record(ctx context.Context, tier Tier, outcome string, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordGeneration(context.WithoutCancel(ctx), string(tier), outcome, elapsed)
}

func outcomeOf(err error) string {
	var refusal *RefusalError
	switch {
	case errors.As(err, &refusal):
		return "refused"
	case errors.Is(err, ErrNoImage), errors.Is(err, ErrNoContent):
		return "no_image"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
