package webapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/prefs"
	"nicrolabs-studio/internal/studio"
)

type catalogResponse struct {
	catalog.Options
	Templates  map[string][]string      `json:"templates"`
	Onboarding []catalog.OnboardingStep `json:"onboarding"`
	Tips       []string                 `json:"tips"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	opts := s.catalog.List()
	templates := make(map[string][]string, len(opts.Business))
	for _, b := range opts.Business {
		if t := s.catalog.Templates(b.ID); len(t) > 0 {
			templates[b.ID] = t
		}
	}
	writeJSON(w, http.StatusOK, catalogResponse{
		Options:    opts,
		Templates:  templates,
		Onboarding: s.catalog.Onboarding(),
		Tips:       s.catalog.Tips(),
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, mimeType, ok := s.store.Previews().Open(chi.URLParam(r, "token"))
	if !ok {
		writeError(w, http.StatusNotFound, "preview not found")
		return
	}
	w.Header().Set("content-type", mimeType)
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(data)
}

type createSessionRequest struct {
	Guest *bool `json:"guest"`
	// ClientID scopes the onboarding flag to one browser.
	ClientID string `json:"client_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	guest := true
	if req.Guest != nil {
		guest = *req.Guest
	}

	sess := s.store.Create(guest)
	view := s.sessionView(sess)
	if s.prefs != nil {
		key := prefs.OnboardingKey
		if id := strings.TrimSpace(req.ClientID); id != "" {
			key += ":" + id
		}
		first, err := s.prefs.FirstVisit(key)
		if err != nil {
			s.logger.Warn("onboarding flag not saved", "err", err)
		}
		view.ShowOnboarding = first
	}

	s.logger.Info("session created", "session_id", sess.ID, "guest", guest)
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView(sess))
}

// handleDeleteSession is logout: images, instruction and history go with it.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.store.Delete(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSlot(value string) (int, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "style" {
		return studio.StyleReferenceSlot, nil
	}
	slot, err := strconv.Atoi(value)
	if err != nil || slot < 1 || slot > studio.MaxProductImages {
		return 0, studio.ErrSlotOutOfRange
	}
	return slot, nil
}

type upload struct {
	filename string
	mimeType string
	data     []byte
}

func readUpload(w http.ResponseWriter, r *http.Request) (upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return upload{}, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image")
		return upload{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return upload{}, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty image")
		return upload{}, false
	}

	mimeType := studio.DetectMIME(header.Header.Get("Content-Type"), data)
	if !strings.HasPrefix(mimeType, "image/") {
		writeError(w, http.StatusUnsupportedMediaType, "only image uploads are accepted")
		return upload{}, false
	}
	return upload{filename: header.Filename, mimeType: mimeType, data: data}, true
}

func (s *Server) handleAddImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	up, ok := readUpload(w, r)
	if !ok {
		return
	}
	img, err := sess.AddImage(up.filename, up.mimeType, up.data)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newImageView(img))
}

func (s *Server) handlePutImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	slot, err := parseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	up, ok := readUpload(w, r)
	if !ok {
		return
	}
	img, err := sess.SetImage(slot, up.filename, up.mimeType, up.data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newImageView(img))
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	slot, err := parseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !sess.RemoveImage(slot) {
		writeError(w, http.StatusNotFound, "slot is empty")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type optionRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	cat, ok := catalog.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	var req optionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if _, ok := s.catalog.Option(cat, req.ID); !ok {
		writeError(w, http.StatusBadRequest, "unknown option")
		return
	}

	sel := sess.Update(func(sel *studio.Selection) { sel.Toggle(cat, req.ID) })
	writeJSON(w, http.StatusOK, s.selectionView(sel))
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req optionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if _, ok := s.catalog.Format(req.ID); !ok {
		writeError(w, http.StatusBadRequest, "unknown format")
		return
	}

	sel := sess.Update(func(sel *studio.Selection) { sel.SelectFormat(req.ID) })
	writeJSON(w, http.StatusOK, s.selectionView(sel))
}

type flagsRequest struct {
	HighFidelity     *bool `json:"high_fidelity"`
	IdentityTransfer *bool `json:"identity_transfer"`
}

func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req flagsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	sel := sess.Update(func(sel *studio.Selection) {
		if req.HighFidelity != nil {
			sel.SetHighFidelity(*req.HighFidelity)
		}
		if req.IdentityTransfer != nil {
			switch {
			case *req.IdentityTransfer && !sel.IdentityTransfer:
				sel.EnterIdentityTransfer()
			case !*req.IdentityTransfer:
				sel.ExitIdentityTransfer()
			}
		}
	})
	writeJSON(w, http.StatusOK, s.selectionView(sel))
}

type instructionRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleInstruction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req instructionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sel := sess.Update(func(sel *studio.Selection) { sel.SetInstruction(req.Text) })
	writeJSON(w, http.StatusOK, s.selectionView(sel))
}

type templateRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	applied := false
	sel := sess.Update(func(sel *studio.Selection) {
		applied = sel.ApplyTemplate(s.catalog, req.Index)
	})
	if !applied {
		writeError(w, http.StatusUnprocessableEntity, "no such template for the selected business")
		return
	}
	writeJSON(w, http.StatusOK, s.selectionView(sel))
}
