package webapi

import (
	"fmt"
	"time"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/studio"
)

type selectionView struct {
	Values           map[string]string   `json:"values"`
	FormatID         string              `json:"format_id"`
	AspectRatio      catalog.AspectRatio `json:"aspect_ratio"`
	HighFidelity     bool                `json:"high_fidelity"`
	IdentityTransfer bool                `json:"identity_transfer"`
	Instruction      string              `json:"instruction"`
}

type imageView struct {
	Slot       int    `json:"slot"`
	Filename   string `json:"filename,omitempty"`
	MIMEType   string `json:"mime_type"`
	PreviewURL string `json:"preview_url"`
}

type processingView struct {
	Phase string `json:"phase"`
	studio.ProcessingState
}

type sessionView struct {
	ID             string         `json:"id"`
	Guest          bool           `json:"guest"`
	ShowOnboarding bool           `json:"show_onboarding,omitempty"`
	Selection      selectionView  `json:"selection"`
	Images         []imageView    `json:"images"`
	StyleReference *imageView     `json:"style_reference,omitempty"`
	Processing     processingView `json:"processing"`
	ActiveResultID string         `json:"active_result_id,omitempty"`
	HistoryLen     int            `json:"history_len"`
}

type resultView struct {
	ID          string    `json:"id"`
	MIMEType    string    `json:"mime_type"`
	Prompt      string    `json:"prompt"`
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
	DownloadURL string    `json:"download_url"`
	ImageURI    string    `json:"image_uri,omitempty"`
}

func (s *Server) selectionView(sel studio.Selection) selectionView {
	values := make(map[string]string, catalog.NumCategories)
	for _, cat := range catalog.Categories() {
		if v := sel.Value(cat); v != "" {
			values[cat.String()] = v
		}
	}
	return selectionView{
		Values:           values,
		FormatID:         sel.FormatID,
		AspectRatio:      s.catalog.AspectRatio(sel.FormatID),
		HighFidelity:     sel.HighFidelity,
		IdentityTransfer: sel.IdentityTransfer,
		Instruction:      sel.Instruction,
	}
}

func newImageView(img studio.UploadedImage) imageView {
	return imageView{
		Slot:       img.Slot,
		Filename:   img.Filename,
		MIMEType:   img.MIMEType,
		PreviewURL: "/api/previews/" + img.Preview,
	}
}

func (s *Server) sessionView(sess *studio.Session) sessionView {
	snap := sess.Snapshot()
	view := sessionView{
		ID:        sess.ID,
		Guest:     sess.Guest,
		Selection: s.selectionView(snap.Selection),
		Images:    make([]imageView, 0, len(snap.Products)),
		Processing: processingView{
			Phase:           sess.Phase().String(),
			ProcessingState: sess.Processing(),
		},
		HistoryLen: len(sess.History()),
	}
	for _, img := range snap.Products {
		view.Images = append(view.Images, newImageView(img))
	}
	if snap.StyleReference != nil {
		ref := newImageView(*snap.StyleReference)
		view.StyleReference = &ref
	}
	if active, ok := sess.ActiveResult(); ok {
		view.ActiveResultID = active.ID
	}
	return view
}

func newResultView(sessionID string, img studio.GeneratedImage, active, withData bool) resultView {
	view := resultView{
		ID:          img.ID,
		MIMEType:    img.MIMEType,
		Prompt:      img.Prompt,
		CreatedAt:   img.CreatedAt,
		Active:      active,
		DownloadURL: fmt.Sprintf("/api/sessions/%s/history/%s/download", sessionID, img.ID),
	}
	if withData {
		view.ImageURI = img.ImageURI
	}
	return view
}
