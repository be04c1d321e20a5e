package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/generate"
)

type recorded struct {
	path string
	body string
}

func fakeAPI(t *testing.T, reply string) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, recorded{path: r.URL.Path, body: string(body)})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), seen...)
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(context.Background(), Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		APIVersion: "v1beta",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func TestGenerateImageParsesInlineData(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	reply := fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":"done"},{"inlineData":{"mimeType":"image/png","data":%q}}]}}]}`, data)
	srv, requests := fakeAPI(t, reply)
	c := newTestClient(t, srv)

	parts, err := c.GenerateImage(context.Background(), generate.Request{
		Tier:         generate.TierPro,
		Prompt:       "make it shine",
		Images:       []generate.InlineImage{{Label: "[Image 1]", MIMEType: "image/png", Data: []byte("in")}},
		AspectRatio:  catalog.AspectWide,
		HighFidelity: true,
	})
	require.NoError(t, err)

	out, err := generate.ParseResponse(parts)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), out.Data)
	assert.Equal(t, "image/png", out.MIMEType)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].path, DefaultProModel+":generateContent")
	assert.Contains(t, reqs[0].body, "16:9")
	assert.Contains(t, reqs[0].body, "4K")
	assert.Contains(t, reqs[0].body, "[Image 1]")
	assert.Less(t, strings.Index(reqs[0].body, "[Image 1]"), strings.Index(reqs[0].body, "make it shine"))
}

func TestFastTierNeverAsksFor4K(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("x"))
	srv, requests := fakeAPI(t, fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":%q}}]}}]}`, data))
	c := newTestClient(t, srv)

	_, err := c.GenerateImage(context.Background(), generate.Request{
		Tier:         generate.TierFast,
		Prompt:       "p",
		AspectRatio:  catalog.AspectSquare,
		HighFidelity: true,
	})
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].path, DefaultFastModel+":generateContent")
	assert.NotContains(t, reqs[0].body, "4K")
}

func TestRejectedImageConfigIsNotRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"Invalid JSON payload received. Unknown name \"imageConfig\"","status":"INVALID_ARGUMENT"}}`)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv)

	_, err := c.GenerateImage(context.Background(), generate.Request{
		Tier:        generate.TierPro,
		Prompt:      "p",
		AspectRatio: catalog.AspectStory,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown name")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestGenerateImageTextOnly(t *testing.T) {
	srv, _ := fakeAPI(t, `{"candidates":[{"content":{"parts":[{"text":"I cannot do that"}]}}]}`)
	c := newTestClient(t, srv)

	parts, err := c.GenerateImage(context.Background(), generate.Request{Prompt: "p", AspectRatio: catalog.AspectSquare})
	require.NoError(t, err)

	_, err = generate.ParseResponse(parts)
	var refusal *generate.RefusalError
	require.ErrorAs(t, err, &refusal)
	assert.Equal(t, "I cannot do that", refusal.Text)
}

func TestSuggestJSON(t *testing.T) {
	srv, requests := fakeAPI(t, `{"candidates":[{"content":{"parts":[{"text":"{\"businessId\":\"gastro\"}"}]}}]}`)
	c := newTestClient(t, srv)

	got, err := c.SuggestJSON(context.Background(), "describe")
	require.NoError(t, err)
	assert.JSONEq(t, `{"businessId":"gastro"}`, got)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].path, DefaultTextModel+":generateContent")
	assert.Contains(t, reqs[0].body, "application/json")
}

func TestSuggestJSONEmpty(t *testing.T) {
	srv, _ := fakeAPI(t, `{"candidates":[]}`)
	c := newTestClient(t, srv)

	_, err := c.SuggestJSON(context.Background(), "describe")
	assert.Error(t, err)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestModelFor(t *testing.T) {
	c := &Client{fastModel: "f", proModel: "p"}
	assert.Equal(t, "f", c.ModelFor(generate.TierFast))
	assert.Equal(t, "p", c.ModelFor(generate.TierPro))
}
