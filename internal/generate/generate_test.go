package generate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/studio"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

type fakeModel struct {
	mu    sync.Mutex
	reqs  []Request
	reply func(ctx context.Context, req Request) ([]Part, error)
}

func (m *fakeModel) GenerateImage(ctx context.Context, req Request) ([]Part, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	return m.reply(ctx, req)
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

func imageReply(data []byte) func(context.Context, Request) ([]Part, error) {
	return func(context.Context, Request) ([]Part, error) {
		return []Part{{Text: "here you go"}, {MIMEType: "image/png", Data: data}}, nil
	}
}

type fakeStamper struct {
	err error
}

func (s fakeStamper) Apply(data []byte) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return append([]byte("marked:"), data...), "image/jpeg", nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
	tiers    []string
}

func (m *fakeMetrics) RecordGeneration(_ context.Context, tier, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers = append(m.tiers, tier)
	m.outcomes = append(m.outcomes, outcome)
}

func readySession(t *testing.T, guest bool) *studio.Session {
	t.Helper()
	sess := studio.NewSession("s1", guest, nil, 10)
	_, err := sess.SetImage(1, "a.png", "image/png", pngBytes)
	require.NoError(t, err)
	sess.Update(func(s *studio.Selection) { s.SetInstruction("on a marble table") })
	return sess
}

func TestGenerateSuccess(t *testing.T) {
	model := &fakeModel{reply: imageReply([]byte("result"))}
	metrics := &fakeMetrics{}
	o := New(Options{Model: model, Metrics: metrics, StatusInterval: time.Hour})

	sess := readySession(t, false)
	_, err := sess.SetImage(studio.StyleReferenceSlot, "style.png", "", pngBytes)
	require.NoError(t, err)

	img, err := o.Generate(context.Background(), sess)
	require.NoError(t, err)

	assert.NotEmpty(t, img.ID)
	assert.Equal(t, "on a marble table", img.Prompt)
	assert.Equal(t, studio.DataURI("image/png", []byte("result")), img.ImageURI)

	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, img.ID, history[0].ID)
	active, ok := sess.ActiveResult()
	require.True(t, ok)
	assert.Equal(t, img.ID, active.ID)
	assert.Equal(t, studio.ProcessingState{}, sess.Processing())
	assert.Equal(t, studio.PhaseIdle, sess.Phase())

	require.Equal(t, 1, model.calls())
	req := model.reqs[0]
	assert.Equal(t, TierFast, req.Tier)
	assert.Equal(t, catalog.AspectSquare, req.AspectRatio)
	require.Len(t, req.Images, 2)
	assert.Equal(t, "[Image 1]", req.Images[0].Label)
	assert.Equal(t, "image/png", req.Images[0].MIMEType)
	assert.Equal(t, "[Style Reference]", req.Images[1].Label)
	assert.Contains(t, req.Prompt, "STYLE REFERENCE")

	assert.Equal(t, []string{"success"}, metrics.outcomes)
	assert.Equal(t, []string{"fast"}, metrics.tiers)
}

func TestGenerateUsesProTierForWideFormat(t *testing.T) {
	model := &fakeModel{reply: imageReply([]byte("r"))}
	o := New(Options{Model: model})

	sess := readySession(t, false)
	sess.Update(func(s *studio.Selection) { s.SelectFormat("cover") })

	_, err := o.Generate(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, TierPro, model.reqs[0].Tier)
	assert.Equal(t, catalog.AspectWide, model.reqs[0].AspectRatio)
}

func TestGuestResultIsWatermarked(t *testing.T) {
	model := &fakeModel{reply: imageReply([]byte("raw"))}
	o := New(Options{Model: model, Stamper: fakeStamper{}})

	img, err := o.Generate(context.Background(), readySession(t, true))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIMEType)

	data, err := img.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("marked:raw"), data)
	assert.NotEqual(t, studio.DataURI("image/png", []byte("raw")), img.ImageURI)
}

func TestWatermarkFailureFailsOpen(t *testing.T) {
	model := &fakeModel{reply: imageReply([]byte("raw"))}
	o := New(Options{Model: model, Stamper: fakeStamper{err: errors.New("cannot decode")}})

	sess := readySession(t, true)
	img, err := o.Generate(context.Background(), sess)
	require.NoError(t, err)

	data, err := img.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), data)
	assert.Len(t, sess.History(), 1)
}

func TestMemberResultIsNotWatermarked(t *testing.T) {
	model := &fakeModel{reply: imageReply([]byte("raw"))}
	o := New(Options{Model: model, Stamper: fakeStamper{}})

	img, err := o.Generate(context.Background(), readySession(t, false))
	require.NoError(t, err)
	data, err := img.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), data)
}

func TestModelErrorStopsRotationAndKeepsHistory(t *testing.T) {
	var statuses atomic.Int64
	model := &fakeModel{reply: func(ctx context.Context, _ Request) ([]Part, error) {
		deadline := time.After(2 * time.Second)
		for statuses.Load() < 3 {
			select {
			case <-deadline:
				return nil, errors.New("rotation never advanced")
			case <-time.After(time.Millisecond):
			}
		}
		return nil, errors.New("network unreachable")
	}}
	o := New(Options{
		Model:          model,
		StatusInterval: 2 * time.Millisecond,
		OnStatus:       func(string, string) { statuses.Add(1) },
	})

	sess := readySession(t, false)
	sess.Succeed(studio.GeneratedImage{ID: "earlier"})

	_, err := o.Generate(context.Background(), sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network unreachable")

	state := sess.Processing()
	assert.NotEmpty(t, state.Error)
	assert.False(t, state.Loading)
	assert.Empty(t, state.Status)

	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, "earlier", history[0].ID)

	settled := statuses.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, statuses.Load(), "status rotation outlived the request")
	assert.Empty(t, sess.Processing().Status)
}

func TestGenerateIsNoOpWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	model := &fakeModel{reply: func(context.Context, Request) ([]Part, error) {
		close(entered)
		<-release
		return []Part{{MIMEType: "image/png", Data: []byte("r")}}, nil
	}}
	o := New(Options{Model: model})
	sess := readySession(t, false)

	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(context.Background(), sess)
		done <- err
	}()
	<-entered

	_, err := o.Generate(context.Background(), sess)
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Equal(t, studio.PhaseAwaitingModel, sess.Phase())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, model.calls())
	assert.Len(t, sess.History(), 1)
}

func TestGenerateRequiresInput(t *testing.T) {
	model := &fakeModel{reply: imageReply([]byte("r"))}
	o := New(Options{Model: model})

	t.Run("no images", func(t *testing.T) {
		sess := studio.NewSession("s", false, nil, 5)
		sess.Update(func(s *studio.Selection) { s.SetInstruction("x") })
		_, err := o.Generate(context.Background(), sess)
		assert.ErrorIs(t, err, ErrInputRequired)
		assert.Equal(t, studio.ProcessingState{}, sess.Processing())
	})

	t.Run("blank instruction", func(t *testing.T) {
		sess := readySession(t, false)
		sess.Update(func(s *studio.Selection) { s.SetInstruction("   ") })
		_, err := o.Generate(context.Background(), sess)
		assert.ErrorIs(t, err, ErrInputRequired)
	})

	assert.Zero(t, model.calls())
}

func TestRefusalIsRecorded(t *testing.T) {
	model := &fakeModel{reply: func(context.Context, Request) ([]Part, error) {
		return []Part{{Text: "I can't help with that."}}, nil
	}}
	metrics := &fakeMetrics{}
	o := New(Options{Model: model, Metrics: metrics})
	sess := readySession(t, false)

	_, err := o.Generate(context.Background(), sess)
	var refusal *RefusalError
	require.ErrorAs(t, err, &refusal)
	assert.Equal(t, "I can't help with that.", refusal.Text)
	assert.Contains(t, sess.Processing().Error, "I can't help with that.")
	assert.Empty(t, sess.History())
	assert.Equal(t, []string{"refused"}, metrics.outcomes)
}

func TestGenerateTimeout(t *testing.T) {
	model := &fakeModel{reply: func(ctx context.Context, _ Request) ([]Part, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	metrics := &fakeMetrics{}
	o := New(Options{Model: model, Metrics: metrics, Timeout: 10 * time.Millisecond})

	sess := readySession(t, false)
	_, err := o.Generate(context.Background(), sess)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, studio.PhaseIdle, sess.Phase())
	assert.Equal(t, []string{"timeout"}, metrics.outcomes)
}

func TestUnsupportedUploadFails(t *testing.T) {
	model := &fakeModel{reply: imageReply([]byte("r"))}
	o := New(Options{Model: model})

	sess := studio.NewSession("s", false, nil, 5)
	_, err := sess.SetImage(1, "notes.txt", "text/plain", []byte("hello world"))
	require.NoError(t, err)
	sess.Update(func(s *studio.Selection) { s.SetInstruction("x") })

	_, err = o.Generate(context.Background(), sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported media type")
	assert.Zero(t, model.calls())
	assert.Equal(t, studio.PhaseIdle, sess.Phase())
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		parts   []Part
		want    Part
		wantErr error
		refusal string
	}{
		{name: "empty", wantErr: ErrNoContent},
		{name: "image first wins", parts: []Part{{Data: []byte("a"), MIMEType: "image/webp"}, {Data: []byte("b")}}, want: Part{Data: []byte("a"), MIMEType: "image/webp"}},
		{name: "missing mime defaults to png", parts: []Part{{Data: []byte("a")}}, want: Part{Data: []byte("a"), MIMEType: "image/png"}},
		{name: "text only", parts: []Part{{Text: "no"}, {Text: "thanks"}}, refusal: "no"},
		{name: "blank parts", parts: []Part{{Text: "  "}}, wantErr: ErrNoImage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseResponse(tc.parts)
			switch {
			case tc.refusal != "":
				var refusal *RefusalError
				require.ErrorAs(t, err, &refusal)
				assert.Equal(t, tc.refusal, refusal.Text)
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestTierPolicies(t *testing.T) {
	assert.Equal(t, TierFast, DefaultTierPolicy(catalog.AspectSquare, false))
	assert.Equal(t, TierPro, DefaultTierPolicy(catalog.AspectSquare, true))
	assert.Equal(t, TierPro, DefaultTierPolicy(catalog.AspectStory, false))

	fast, err := PolicyFor("FAST")
	require.NoError(t, err)
	assert.Equal(t, TierFast, fast(catalog.AspectWide, true))

	pro, err := PolicyFor("pro")
	require.NoError(t, err)
	assert.Equal(t, TierPro, pro(catalog.AspectSquare, false))

	auto, err := PolicyFor("")
	require.NoError(t, err)
	assert.Equal(t, TierFast, auto(catalog.AspectSquare, false))

	_, err = PolicyFor("turbo")
	assert.Error(t, err)
}

func TestRotationStopJoins(t *testing.T) {
	var count atomic.Int64
	r := startRotation(context.Background(), []string{"a", "b"}, time.Millisecond, func(string) { count.Add(1) })
	time.Sleep(10 * time.Millisecond)
	r.Stop()
	n := count.Load()
	assert.Greater(t, n, int64(1))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, count.Load())

	r.Pin("pinned")
	assert.Equal(t, n+1, count.Load())
	r.Close()
	r.Pin("dropped")
	assert.Equal(t, n+1, count.Load())
}
