package prompt

import (
	"fmt"
	"sort"
	"strings"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/studio"
)

// Input is everything the composer looks at. Slots are the product slot ids
// that carry an image; they are rendered in ascending order.
type Input struct {
	Selection         studio.Selection
	Instruction       string
	Slots             []int
	HasStyleReference bool
}

// FromSnapshot builds the composer input for a generation snapshot.
func FromSnapshot(snap studio.Snapshot) Input {
	return Input{
		Selection:         snap.Selection,
		Instruction:       snap.Selection.Instruction,
		Slots:             snap.Slots(),
		HasStyleReference: snap.StyleReference != nil,
	}
}

type Composer struct {
	catalog *catalog.Catalog
}

func New(c *catalog.Catalog) *Composer {
	if c == nil {
		c = catalog.Default()
	}
	return &Composer{catalog: c}
}

// Compose renders the model instruction. It is a pure function of in and the
// catalog: equal inputs give byte-identical output.
func (c *Composer) Compose(in Input) string {
	var b strings.Builder
	if in.Selection.IdentityTransfer {
		composeIdentityTransfer(&b, in)
	} else {
		c.composeProduct(&b, in)
	}
	writeQuality(&b, in.Selection.HighFidelity)
	return b.String()
}

func composeIdentityTransfer(b *strings.Builder, in Input) {
	b.WriteString("ACT AS AN EXPERT PHOTO EDITOR AND RETOUCHER.\n")
	b.WriteString("TASK: FACE SWAP / IDENTITY TRANSFER.\n")
	fmt.Fprintf(b, "SOURCE IMAGES: The uploaded images [%s] contain the Source Identities and Target Bodies.\n", strings.Join(imageRefs(in.Slots), ", "))
	fmt.Fprintf(b, "USER INSTRUCTION: \"%s\"\n", in.Instruction)
	b.WriteString("\nCRITICAL EXECUTION RULES:\n")
	b.WriteString("1. Seamlessly replace the face/head as requested in the instruction.\n")
	b.WriteString("2. MATCH skin tone, lighting direction, grain, and noise of the target image perfectly.\n")
	b.WriteString("3. Preserve the expression if requested, otherwise adapt source face expression to target body context.\n")
	b.WriteString("4. Result must be PHOTOREALISTIC. No cartoonish artifacts.\n")
}

func (c *Composer) composeProduct(b *strings.Builder, in Input) {
	sel := in.Selection

	b.WriteString("Act as a world-class photographer and expert art director. Your goal is to create an award-winning commercial image.\n")

	if len(in.Slots) > 0 {
		refs := make([]string, 0, len(in.Slots))
		for _, r := range imageRefs(in.Slots) {
			refs = append(refs, "["+r+"]")
		}
		fmt.Fprintf(b, "\nMAIN SUBJECT: Use %s as the main products or subjects. CRITICAL: You must keep the identity, logos, shapes and details of the main subject EXACTLY as in the references.\n", strings.Join(refs, ", "))
	}

	if in.HasStyleReference {
		b.WriteString("\nSTYLE REFERENCE: Use the provided style reference image ONLY as a guide for lighting, composition, angle and atmosphere (mood). DO NOT copy the object in this image, only its aesthetic.\n")
	}

	if fragment, ok := c.catalog.Fragment(catalog.Business, sel.Value(catalog.Business)); ok {
		fmt.Fprintf(b, "\nBUSINESS CONTEXT: %s\n", fragment)
	}

	fmt.Fprintf(b, "\nDESIRED SCENE: \"%s\"\n", in.Instruction)

	b.WriteString("\nTECHNICAL SPECIFICATIONS:\n")
	for _, spec := range technicalLabels {
		if fragment, ok := c.catalog.Fragment(spec.cat, sel.Value(spec.cat)); ok {
			fmt.Fprintf(b, "- %s: %s\n", spec.label, fragment)
		}
	}
	fmt.Fprintf(b, "- FORMAT AND COMPOSITION: %s\n", c.formatFragment(sel.FormatID))
}

// writeQuality is the tail shared by both modes.
func writeQuality(b *strings.Builder, highFidelity bool) {
	b.WriteString("\nOUTPUT QUALITY:\n")
	if highFidelity {
		b.WriteString("- EXTREME 4K/8K RESOLUTION.\n")
		b.WriteString("- Uncompressed RAW rendering.\n")
		b.WriteString("- Maximum texture detail.\n")
	} else {
		b.WriteString("- 8K resolution, hyperrealistic textures.\n")
		b.WriteString("- Professional cinematic color grading.\n")
	}
	b.WriteString("- Perfect integration of light and shadow.\n")
}

var technicalLabels = []struct {
	cat   catalog.Category
	label string
}{
	{cat: catalog.Vibe, label: "Visual Style"},
	{cat: catalog.Lighting, label: "Lighting"},
	{cat: catalog.Camera, label: "Optics"},
	{cat: catalog.Angle, label: "Angle"},
}

func (c *Composer) formatFragment(formatID string) string {
	if f, ok := c.catalog.Format(formatID); ok {
		return f.Fragment
	}
	f, _ := c.catalog.Format(catalog.DefaultFormatID)
	return f.Fragment
}

// imageRefs renders "Image N" for each slot in ascending order without
// touching the caller's slice.
func imageRefs(slots []int) []string {
	sorted := append([]int(nil), slots...)
	sort.Ints(sorted)
	out := make([]string, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, fmt.Sprintf("Image %d", s))
	}
	return out
}

// ImageLabel is the marker the model sees next to the image in slot.
func ImageLabel(slot int) string {
	if slot == studio.StyleReferenceSlot {
		return "[Style Reference]"
	}
	return fmt.Sprintf("[Image %d]", slot)
}
