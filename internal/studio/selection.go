package studio

import (
	"strings"

	"nicrolabs-studio/internal/catalog"
)

// Selection is the user's current set of choices. Values holds one option id
// per style category; an empty string means nothing is selected.
type Selection struct {
	Values           [catalog.NumCategories]string
	FormatID         string
	HighFidelity     bool
	IdentityTransfer bool
	Instruction      string
}

func NewSelection() Selection {
	return Selection{FormatID: catalog.DefaultFormatID}
}

func (s Selection) Value(cat catalog.Category) string {
	if !cat.Valid() {
		return ""
	}
	return s.Values[cat]
}

// Toggle selects id in cat, or clears the category when id is already the
// selected value.
func (s *Selection) Toggle(cat catalog.Category, id string) {
	if !cat.Valid() {
		return
	}
	id = strings.TrimSpace(id)
	if s.Values[cat] == id {
		s.Values[cat] = ""
		return
	}
	s.Values[cat] = id
}

// Set assigns a category without toggle semantics.
func (s *Selection) Set(cat catalog.Category, id string) {
	if !cat.Valid() {
		return
	}
	s.Values[cat] = strings.TrimSpace(id)
}

func (s *Selection) Clear(cat catalog.Category) {
	s.Set(cat, "")
}

// SelectFormat never leaves the format empty.
func (s *Selection) SelectFormat(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.FormatID = id
}

func (s *Selection) SetHighFidelity(v bool) {
	s.HighFidelity = v
}

func (s *Selection) SetIdentityTransfer(v bool) {
	s.IdentityTransfer = v
}

// EnterIdentityTransfer switches to face/identity transfer and drops the
// product-studio context so it cannot leak into the identity prompt.
func (s *Selection) EnterIdentityTransfer() {
	s.IdentityTransfer = true
	s.Values[catalog.Business] = ""
	s.Instruction = ""
}

func (s *Selection) ExitIdentityTransfer() {
	s.IdentityTransfer = false
}

func (s *Selection) SetInstruction(text string) {
	s.Instruction = text
}

// ApplyTemplate replaces the instruction with one of the scene templates of
// the selected business.
func (s *Selection) ApplyTemplate(c *catalog.Catalog, index int) bool {
	templates := c.Templates(s.Values[catalog.Business])
	if index < 0 || index >= len(templates) {
		return false
	}
	s.Instruction = templates[index]
	return true
}

// HasInstruction reports whether the instruction is non-blank.
func (s Selection) HasInstruction() bool {
	return strings.TrimSpace(s.Instruction) != ""
}
