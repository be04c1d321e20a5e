package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultFormatID is the format every new selection starts with.
const DefaultFormatID = "post_square"

//go:embed catalog.yaml
var defaultDocument []byte

// Category is one of the five style categories a user picks at most one
// option from. Output formats are kept apart because a format is always set.
type Category int

const (
	Business Category = iota
	Vibe
	Lighting
	Camera
	Angle
)

// NumCategories is the number of style categories.
const NumCategories = 5

var categoryNames = [NumCategories]string{"business", "vibe", "lighting", "camera", "angle"}

// Categories returns the style categories in prompt order.
func Categories() []Category {
	return []Category{Business, Vibe, Lighting, Camera, Angle}
}

func (c Category) String() string {
	if c < 0 || int(c) >= NumCategories {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

func (c Category) Valid() bool {
	return c >= 0 && int(c) < NumCategories
}

func ParseCategory(value string) (Category, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for i, name := range categoryNames {
		if name == value {
			return Category(i), true
		}
	}
	return 0, false
}

type AspectRatio string

const (
	AspectSquare AspectRatio = "1:1"
	AspectStory  AspectRatio = "9:16"
	AspectFlyer  AspectRatio = "3:4"
	AspectWide   AspectRatio = "16:9"
)

func (a AspectRatio) Valid() bool {
	switch a {
	case AspectSquare, AspectStory, AspectFlyer, AspectWide:
		return true
	}
	return false
}

type PresetOption struct {
	ID          string `yaml:"id" json:"id"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description" json:"description"`
	Fragment    string `yaml:"fragment" json:"fragment"`
}

type FormatPreset struct {
	PresetOption `yaml:",inline"`
	AspectRatio  AspectRatio `yaml:"aspect_ratio" json:"aspect_ratio"`
}

type OnboardingStep struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
}

// Options is the full option listing handed to front-ends and to the style
// suggestion oracle.
type Options struct {
	Business []PresetOption `json:"business"`
	Vibe     []PresetOption `json:"vibe"`
	Lighting []PresetOption `json:"lighting"`
	Camera   []PresetOption `json:"camera"`
	Angle    []PresetOption `json:"angle"`
	Format   []FormatPreset `json:"format"`
}

// ByCategory returns the option slice backing cat.
func (o Options) ByCategory(cat Category) []PresetOption {
	switch cat {
	case Business:
		return o.Business
	case Vibe:
		return o.Vibe
	case Lighting:
		return o.Lighting
	case Camera:
		return o.Camera
	case Angle:
		return o.Angle
	}
	return nil
}

type document struct {
	Business        []PresetOption      `yaml:"business"`
	Vibe            []PresetOption      `yaml:"vibe"`
	Lighting        []PresetOption      `yaml:"lighting"`
	Camera          []PresetOption      `yaml:"camera"`
	Angle           []PresetOption      `yaml:"angle"`
	Format          []FormatPreset      `yaml:"format"`
	Templates       map[string][]string `yaml:"templates"`
	StatusMessages  []string            `yaml:"status_messages"`
	WatermarkStatus string              `yaml:"watermark_status"`
	Onboarding      []OnboardingStep    `yaml:"onboarding"`
	Tips            []string            `yaml:"tips"`
}

// Catalog is immutable once loaded and safe for concurrent use.
type Catalog struct {
	options         Options
	index           [NumCategories]map[string]PresetOption
	formats         map[string]FormatPreset
	templates       map[string][]string
	statusMessages  []string
	watermarkStatus string
	onboarding      []OnboardingStep
	tips            []string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultDocument)
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded document: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load reads a catalog document from path, or returns the embedded one when
// path is empty.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		options: Options{
			Business: doc.Business,
			Vibe:     doc.Vibe,
			Lighting: doc.Lighting,
			Camera:   doc.Camera,
			Angle:    doc.Angle,
			Format:   doc.Format,
		},
		formats:         make(map[string]FormatPreset, len(doc.Format)),
		templates:       make(map[string][]string, len(doc.Templates)),
		statusMessages:  doc.StatusMessages,
		watermarkStatus: strings.TrimSpace(doc.WatermarkStatus),
		onboarding:      doc.Onboarding,
		tips:            doc.Tips,
	}

	for _, cat := range Categories() {
		opts := c.options.ByCategory(cat)
		idx := make(map[string]PresetOption, len(opts))
		for _, o := range opts {
			id := strings.TrimSpace(o.ID)
			if id == "" {
				return nil, fmt.Errorf("catalog: %s option %q has no id", cat, o.Label)
			}
			if _, dup := idx[id]; dup {
				return nil, fmt.Errorf("catalog: duplicate %s id %q", cat, id)
			}
			if strings.TrimSpace(o.Fragment) == "" {
				return nil, fmt.Errorf("catalog: %s option %q has no fragment", cat, id)
			}
			idx[id] = o
		}
		c.index[cat] = idx
	}

	for _, f := range doc.Format {
		id := strings.TrimSpace(f.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog: format %q has no id", f.Label)
		}
		if _, dup := c.formats[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate format id %q", id)
		}
		if !f.AspectRatio.Valid() {
			return nil, fmt.Errorf("catalog: format %q has unsupported aspect ratio %q", id, f.AspectRatio)
		}
		c.formats[id] = f
	}
	if _, ok := c.formats[DefaultFormatID]; !ok {
		return nil, fmt.Errorf("catalog: default format %q is missing", DefaultFormatID)
	}

	for businessID, list := range doc.Templates {
		if _, ok := c.index[Business][businessID]; !ok {
			return nil, fmt.Errorf("catalog: templates for unknown business %q", businessID)
		}
		c.templates[businessID] = list
	}

	if len(c.statusMessages) == 0 {
		return nil, errors.New("catalog: status_messages is empty")
	}
	if c.watermarkStatus == "" {
		c.watermarkStatus = c.statusMessages[len(c.statusMessages)-1]
	}

	return c, nil
}

func (c *Catalog) List() Options {
	return Options{
		Business: append([]PresetOption(nil), c.options.Business...),
		Vibe:     append([]PresetOption(nil), c.options.Vibe...),
		Lighting: append([]PresetOption(nil), c.options.Lighting...),
		Camera:   append([]PresetOption(nil), c.options.Camera...),
		Angle:    append([]PresetOption(nil), c.options.Angle...),
		Format:   append([]FormatPreset(nil), c.options.Format...),
	}
}

func (c *Catalog) Option(cat Category, id string) (PresetOption, bool) {
	if !cat.Valid() || id == "" {
		return PresetOption{}, false
	}
	o, ok := c.index[cat][id]
	return o, ok
}

// Fragment returns the prompt text of an option. Unselected and unknown ids
// both report false so callers can simply omit the clause.
func (c *Catalog) Fragment(cat Category, id string) (string, bool) {
	o, ok := c.Option(cat, id)
	if !ok {
		return "", false
	}
	return o.Fragment, true
}

// Match resolves a value that may be either an option id or its exact
// fragment text.
func (c *Catalog) Match(cat Category, value string) (PresetOption, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return PresetOption{}, false
	}
	if o, ok := c.Option(cat, value); ok {
		return o, true
	}
	for _, o := range c.options.ByCategory(cat) {
		if o.Fragment == value {
			return o, true
		}
	}
	return PresetOption{}, false
}

func (c *Catalog) Format(id string) (FormatPreset, bool) {
	f, ok := c.formats[id]
	return f, ok
}

// AspectRatio resolves the target ratio of a format; unknown ids map to
// square.
func (c *Catalog) AspectRatio(formatID string) AspectRatio {
	if f, ok := c.formats[formatID]; ok {
		return f.AspectRatio
	}
	return AspectSquare
}

func (c *Catalog) Templates(businessID string) []string {
	return append([]string(nil), c.templates[businessID]...)
}

func (c *Catalog) StatusMessages() []string {
	return append([]string(nil), c.statusMessages...)
}

func (c *Catalog) WatermarkStatus() string {
	return c.watermarkStatus
}

func (c *Catalog) Onboarding() []OnboardingStep {
	return append([]OnboardingStep(nil), c.onboarding...)
}

func (c *Catalog) Tips() []string {
	return append([]string(nil), c.tips...)
}
