package webapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/export"
	"nicrolabs-studio/internal/generate"
	"nicrolabs-studio/internal/prompt"
	"nicrolabs-studio/internal/studio"
)

type generateError struct {
	Error      string         `json:"error"`
	Processing processingView `json:"processing"`
}

// handleGenerate blocks until the request settles. The server lifetime bounds
// the request, not the client's connection: a dropped tab still gets its
// result in history.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "image generation is not configured")
		return
	}

	img, err := s.generator.Generate(s.lifetime, sess)
	switch {
	case errors.Is(err, generate.ErrInFlight):
		writeError(w, http.StatusConflict, "a generation is already running")
		return
	case errors.Is(err, generate.ErrInputRequired):
		writeError(w, http.StatusUnprocessableEntity, "upload at least one image and describe the scene")
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, generateError{
			Error: err.Error(),
			Processing: processingView{
				Phase:           sess.Phase().String(),
				ProcessingState: sess.Processing(),
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, newResultView(sess.ID, img, true, true))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, processingView{
		Phase:           sess.Phase().String(),
		ProcessingState: sess.Processing(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	activeID := ""
	if active, ok := sess.ActiveResult(); ok {
		activeID = active.ID
	}
	items := sess.History()
	out := make([]resultView, 0, len(items))
	for _, img := range items {
		out = append(out, newResultView(sess.ID, img, img.ID == activeID, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// result resolves {rid}; "active" names the currently displayed result.
func (s *Server) result(w http.ResponseWriter, r *http.Request) (*studio.Session, studio.GeneratedImage, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return nil, studio.GeneratedImage{}, false
	}
	rid := chi.URLParam(r, "rid")
	var img studio.GeneratedImage
	if rid == "active" {
		img, ok = sess.ActiveResult()
	} else {
		img, ok = sess.Result(rid)
	}
	if !ok {
		writeError(w, http.StatusNotFound, "result not found")
		return nil, studio.GeneratedImage{}, false
	}
	return sess, img, true
}

func (s *Server) handleSelectResult(w http.ResponseWriter, r *http.Request) {
	sess, img, ok := s.result(w, r)
	if !ok {
		return
	}
	sess.SelectResult(img.ID)
	writeJSON(w, http.StatusOK, newResultView(sess.ID, img, true, true))
}

func (s *Server) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if !sess.RemoveResult(chi.URLParam(r, "rid")) {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	_, img, ok := s.result(w, r)
	if !ok {
		return
	}
	data, err := img.Bytes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("content-type", img.MIMEType)
	w.Header().Set("content-disposition", `attachment; filename="`+export.NameFor(s.exportPrefix, img)+`"`)
	_, _ = w.Write(data)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, img, ok := s.result(w, r)
	if !ok {
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusNotImplemented, "export is not configured")
		return
	}
	location, err := export.Image(r.Context(), s.exporter, s.exportPrefix, img)
	if err != nil {
		s.logger.Error("export failed", "session_id", sess.ID, "result_id", img.ID, "err", err)
		writeError(w, http.StatusBadGateway, "export failed")
		return
	}
	s.logger.Info("result exported", "session_id", sess.ID, "result_id", img.ID, "location", location)
	writeJSON(w, http.StatusOK, map[string]string{"location": location})
}

type suggestRequest struct {
	Description string `json:"description"`
}

type suggestResponse struct {
	Applied     bool              `json:"applied"`
	Values      map[string]string `json:"values,omitempty"`
	FormatID    string            `json:"format_id,omitempty"`
	PromptAddon string            `json:"prompt_addon,omitempty"`
	Rejected    []string          `json:"rejected,omitempty"`
	Selection   selectionView     `json:"selection"`
}

// handleSuggest never fails because of the oracle; an unusable answer comes
// back as applied=false with the selection unchanged.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req suggestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if s.suggester == nil {
		writeError(w, http.StatusServiceUnavailable, "style suggestions are not configured")
		return
	}

	res := s.suggester.Apply(r.Context(), sess, req.Description)
	sel := sess.Selection()
	if res.Selection != nil {
		sel = *res.Selection
	}
	writeJSON(w, http.StatusOK, suggestResponse{
		Applied:     res.Applied,
		Values:      res.Values,
		FormatID:    res.FormatID,
		PromptAddon: res.PromptAddon,
		Rejected:    res.Rejected,
		Selection:   s.selectionView(sel),
	})
}

type promptResponse struct {
	Prompt      string              `json:"prompt"`
	Tier        generate.Tier       `json:"tier"`
	AspectRatio catalog.AspectRatio `json:"aspect_ratio"`
	Ready       bool                `json:"ready"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	aspect := s.catalog.AspectRatio(snap.Selection.FormatID)
	writeJSON(w, http.StatusOK, promptResponse{
		Prompt:      s.composer.Compose(prompt.FromSnapshot(snap)),
		Tier:        s.policy(aspect, snap.Selection.HighFidelity),
		AspectRatio: aspect,
		Ready:       generate.Validate(snap) == nil,
	})
}
