package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/studio"
)

// Oracle answers a prompt with a JSON document.
type Oracle interface {
	SuggestJSON(ctx context.Context, prompt string) (string, error)
}

// Suggestion is the document the oracle is asked to produce. Style values may
// be either an option id or its exact fragment.
type Suggestion struct {
	BusinessID  string `json:"businessId"`
	Vibe        string `json:"vibeValue"`
	Lighting    string `json:"lightingValue"`
	Camera      string `json:"cameraValue"`
	Angle       string `json:"angleValue"`
	FormatID    string `json:"formatId"`
	PromptAddon string `json:"suggestedPromptAddon"`
}

func (s Suggestion) value(cat catalog.Category) string {
	switch cat {
	case catalog.Business:
		return s.BusinessID
	case catalog.Vibe:
		return s.Vibe
	case catalog.Lighting:
		return s.Lighting
	case catalog.Camera:
		return s.Camera
	case catalog.Angle:
		return s.Angle
	}
	return ""
}

// Result lists what was applied. Rejected holds the categories whose value
// did not match the catalog.
type Result struct {
	Applied     bool              `json:"applied"`
	Values      map[string]string `json:"values,omitempty"`
	FormatID    string            `json:"format_id,omitempty"`
	PromptAddon string            `json:"prompt_addon,omitempty"`
	Rejected    []string          `json:"rejected,omitempty"`
	Selection   *studio.Selection `json:"-"`
}

type Options struct {
	Oracle  Oracle
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

type Service struct {
	oracle  Oracle
	catalog *catalog.Catalog
	logger  *slog.Logger
}

func New(opts Options) *Service {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{oracle: opts.Oracle, catalog: cat, logger: logger}
}

// Apply asks the oracle for a style direction and applies every valid field
// to sess. Any failure leaves the selection untouched and is only logged.
func (s *Service) Apply(ctx context.Context, sess *studio.Session, description string) Result {
	description = strings.TrimSpace(description)
	if description == "" || s.oracle == nil {
		return Result{}
	}

	sug, err := s.Fetch(ctx, description)
	if err != nil {
		s.logger.Warn("style suggestion unavailable", "session_id", sess.ID, "err", err)
		return Result{}
	}

	res := s.Validate(sug)
	if !res.Applied {
		s.logger.Warn("style suggestion matched nothing", "session_id", sess.ID, "rejected", res.Rejected)
		return res
	}

	sel := sess.Update(func(sel *studio.Selection) {
		sel.ExitIdentityTransfer()
		for _, cat := range catalog.Categories() {
			if id, ok := res.Values[cat.String()]; ok {
				sel.Set(cat, id)
			}
		}
		sel.SelectFormat(res.FormatID)
		if res.PromptAddon != "" {
			sel.SetInstruction(res.PromptAddon)
		}
	})
	res.Selection = &sel

	s.logger.Info("style suggestion applied", "session_id", sess.ID, "values", res.Values, "format_id", res.FormatID)
	return res
}

// Fetch queries the oracle and decodes its answer.
func (s *Service) Fetch(ctx context.Context, description string) (Suggestion, error) {
	if s.oracle == nil {
		return Suggestion{}, errors.New("suggestion oracle is not configured")
	}
	raw, err := s.oracle.SuggestJSON(ctx, BuildPrompt(description, s.catalog.List()))
	if err != nil {
		return Suggestion{}, err
	}
	return Decode(raw)
}

// Validate resolves every suggested value against the catalog.
func (s *Service) Validate(sug Suggestion) Result {
	res := Result{Values: make(map[string]string)}
	for _, cat := range catalog.Categories() {
		v := strings.TrimSpace(sug.value(cat))
		if v == "" {
			continue
		}
		o, ok := s.catalog.Match(cat, v)
		if !ok {
			res.Rejected = append(res.Rejected, cat.String())
			continue
		}
		res.Values[cat.String()] = o.ID
	}

	if id := strings.TrimSpace(sug.FormatID); id != "" {
		if _, ok := s.catalog.Format(id); ok {
			res.FormatID = id
		} else {
			res.Rejected = append(res.Rejected, "format")
		}
	}

	res.PromptAddon = strings.TrimSpace(sug.PromptAddon)
	res.Applied = len(res.Values) > 0 || res.FormatID != "" || res.PromptAddon != ""
	return res
}

// Decode parses the oracle answer, tolerating a markdown code fence around
// the JSON object.
func Decode(raw string) (Suggestion, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Suggestion{}, errors.New("empty suggestion")
	}

	var sug Suggestion
	if err := json.Unmarshal([]byte(raw), &sug); err != nil {
		return Suggestion{}, fmt.Errorf("decode suggestion: %w", err)
	}
	return sug, nil
}

type optionRef struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func refs(opts []catalog.PresetOption) []optionRef {
	out := make([]optionRef, 0, len(opts))
	for _, o := range opts {
		out = append(out, optionRef{ID: o.ID, Label: o.Label})
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// BuildPrompt renders the oracle instruction. Only ids and labels of the
// catalog are sent.
func BuildPrompt(description string, opts catalog.Options) string {
	var b strings.Builder

	b.WriteString("You are an expert Creative Director and Photographer.\n")
	b.WriteString("Your task is to analyze a user's business description and goal, and map it to the BEST available style presets from the provided list.\n\n")
	fmt.Fprintf(&b, "USER DESCRIPTION: \"%s\"\n\n", description)

	b.WriteString("AVAILABLE OPTIONS (pick ONE id for each category):\n")
	for _, cat := range catalog.Categories() {
		fmt.Fprintf(&b, "- %s: %s\n", cat, mustJSON(refs(opts.ByCategory(cat))))
	}
	formats := make([]optionRef, 0, len(opts.Format))
	for _, f := range opts.Format {
		formats = append(formats, optionRef{ID: f.ID, Label: f.Label})
	}
	fmt.Fprintf(&b, "- format: %s\n\n", mustJSON(formats))

	b.WriteString("OUTPUT FORMAT:\n")
	b.WriteString("Return ONLY a raw JSON object (no markdown, no backticks) with the following keys:\n")
	b.WriteString(`{
  "businessId": "id from business",
  "vibeValue": "id from vibe",
  "lightingValue": "id from lighting",
  "cameraValue": "id from camera",
  "angleValue": "id from angle",
  "formatId": "id from format",
  "suggestedPromptAddon": "A short, 1-sentence creative instruction based on their specific request (e.g. 'Add smoke effects' or 'Place on a wooden table')"
}
`)
	return b.String()
}
