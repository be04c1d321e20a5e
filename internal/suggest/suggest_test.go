package suggest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/studio"
)

type stubOracle struct {
	reply  string
	err    error
	prompt string
}

func (o *stubOracle) SuggestJSON(_ context.Context, prompt string) (string, error) {
	o.prompt = prompt
	return o.reply, o.err
}

func TestApplyValidSuggestion(t *testing.T) {
	retro, ok := catalog.Default().Option(catalog.Vibe, "retro")
	require.True(t, ok)

	oracle := &stubOracle{reply: `{
		"businessId": "gastro",
		"vibeValue": "` + retro.Fragment + `",
		"lightingValue": "golden_hour",
		"cameraValue": "macro",
		"angleValue": "hero",
		"formatId": "story",
		"suggestedPromptAddon": "Add gentle steam rising from the plate"
	}`}
	svc := New(Options{Oracle: oracle})
	sess := studio.NewSession("s", false, nil, 5)
	sess.Update(func(s *studio.Selection) { s.EnterIdentityTransfer() })

	res := svc.Apply(context.Background(), sess, "artisan pizza place")
	require.True(t, res.Applied)
	assert.Empty(t, res.Rejected)

	sel := sess.Selection()
	assert.False(t, sel.IdentityTransfer)
	assert.Equal(t, "gastro", sel.Value(catalog.Business))
	assert.Equal(t, "retro", sel.Value(catalog.Vibe))
	assert.Equal(t, "golden_hour", sel.Value(catalog.Lighting))
	assert.Equal(t, "macro", sel.Value(catalog.Camera))
	assert.Equal(t, "hero", sel.Value(catalog.Angle))
	assert.Equal(t, "story", sel.FormatID)
	assert.Equal(t, "Add gentle steam rising from the plate", sel.Instruction)

	assert.Contains(t, oracle.prompt, `"artisan pizza place"`)
	assert.Contains(t, oracle.prompt, `"id":"gastro"`)
	assert.NotContains(t, oracle.prompt, retro.Fragment, "only ids and labels are sent")
}

func TestApplySkipsInvalidFields(t *testing.T) {
	oracle := &stubOracle{reply: `{"businessId":"bakery","vibeValue":"urban","formatId":"billboard"}`}
	svc := New(Options{Oracle: oracle})
	sess := studio.NewSession("s", false, nil, 5)
	sess.Update(func(s *studio.Selection) {
		s.Toggle(catalog.Business, "tech")
		s.SetInstruction("keep me")
	})

	res := svc.Apply(context.Background(), sess, "bakery")
	require.True(t, res.Applied)
	assert.ElementsMatch(t, []string{"business", "format"}, res.Rejected)

	sel := sess.Selection()
	assert.Equal(t, "tech", sel.Value(catalog.Business))
	assert.Equal(t, "urban", sel.Value(catalog.Vibe))
	assert.Equal(t, catalog.DefaultFormatID, sel.FormatID)
	assert.Equal(t, "keep me", sel.Instruction)
}

func TestApplyFailsSoft(t *testing.T) {
	tests := []struct {
		name   string
		oracle *stubOracle
	}{
		{name: "oracle error", oracle: &stubOracle{err: errors.New("quota exceeded")}},
		{name: "not json", oracle: &stubOracle{reply: "Sure! Here are my picks."}},
		{name: "nothing valid", oracle: &stubOracle{reply: `{"businessId":"x","vibeValue":"y"}`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(Options{Oracle: tc.oracle})
			sess := studio.NewSession("s", false, nil, 5)
			before := sess.Update(func(s *studio.Selection) {
				s.Toggle(catalog.Lighting, "neon")
				s.SetInstruction("original")
			})

			res := svc.Apply(context.Background(), sess, "anything")
			assert.False(t, res.Applied)
			assert.Equal(t, before, sess.Selection())
		})
	}
}

func TestApplyWithoutDescriptionSkipsOracle(t *testing.T) {
	oracle := &stubOracle{reply: `{"businessId":"gastro"}`}
	svc := New(Options{Oracle: oracle})
	res := svc.Apply(context.Background(), studio.NewSession("s", false, nil, 5), "   ")
	assert.False(t, res.Applied)
	assert.Empty(t, oracle.prompt)
}

func TestDecodeStripsFence(t *testing.T) {
	sug, err := Decode("```json\n{\"formatId\":\"cover\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "cover", sug.FormatID)

	_, err = Decode("")
	assert.Error(t, err)
}

func TestBuildPromptKeepsDescriptionVerbatim(t *testing.T) {
	description := "\"Kafé Nord\" bakery\nsourdough only"
	got := BuildPrompt(description, catalog.Default().List())
	assert.Contains(t, got, "USER DESCRIPTION: \""+description+"\"\n")
}
