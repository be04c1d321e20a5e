package studio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInFlight        = errors.New("a generation is already in progress")
	ErrSessionNotFound = errors.New("session not found")
)

// Phase is the generation state of a session. Settled outcomes collapse back
// to Idle once recorded in ProcessingState and History.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseAwaitingModel
	PhasePostProcessing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseAwaitingModel:
		return "awaiting_model"
	case PhasePostProcessing:
		return "post_processing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) InFlight() bool {
	return p != PhaseIdle
}

type ProcessingState struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Snapshot is a consistent copy of everything a generation needs.
type Snapshot struct {
	SessionID      string
	Guest          bool
	Selection      Selection
	Products       []UploadedImage
	StyleReference *UploadedImage
}

// Slots returns the product slot ids in ascending order.
func (s Snapshot) Slots() []int {
	out := make([]int, 0, len(s.Products))
	for _, img := range s.Products {
		out = append(out, img.Slot)
	}
	return out
}

// Session is the explicit per-user context. All methods are safe for
// concurrent use.
type Session struct {
	ID    string
	Guest bool

	mu           sync.Mutex
	previews     *Previews
	selection    Selection
	products     [MaxProductImages]*UploadedImage
	styleRef     *UploadedImage
	history      *History
	phase        Phase
	processing   ProcessingState
	lastActivity time.Time
}

func NewSession(id string, guest bool, previews *Previews, maxHistory int) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if previews == nil {
		previews = NewPreviews()
	}
	return &Session{
		ID:           id,
		Guest:        guest,
		previews:     previews,
		selection:    NewSelection(),
		history:      NewHistory(maxHistory),
		lastActivity: time.Now(),
	}
}

func (s *Session) touchLocked() {
	s.lastActivity = time.Now()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Update applies fn to the selection atomically and returns the result.
func (s *Session) Update(fn func(*Selection)) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if fn != nil {
		fn(&s.selection)
	}
	return s.selection
}

func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// SetImage attaches an image to a product slot (1..MaxProductImages) or to
// StyleReferenceSlot. Any previous preview for that slot is revoked.
func (s *Session) SetImage(slot int, filename, mimeType string, data []byte) (UploadedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setImageLocked(slot, filename, mimeType, data)
}

func (s *Session) setImageLocked(slot int, filename, mimeType string, data []byte) (UploadedImage, error) {
	ref, err := s.slotLocked(slot)
	if err != nil {
		return UploadedImage{}, err
	}
	if *ref != nil {
		s.previews.Revoke((*ref).Preview)
	}

	mimeType = DetectMIME(mimeType, data)
	img := &UploadedImage{
		Slot:     slot,
		Filename: filename,
		MIMEType: mimeType,
		Data:     data,
		Preview:  s.previews.Create(data, mimeType),
	}
	*ref = img
	s.touchLocked()
	return *img, nil
}

// AddImage fills the first free product slot and reports the slot used.
func (s *Session) AddImage(filename, mimeType string, data []byte) (UploadedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.products {
		if p == nil {
			return s.setImageLocked(i+1, filename, mimeType, data)
		}
	}
	return UploadedImage{}, fmt.Errorf("all %d product slots are taken: %w", MaxProductImages, ErrSlotOutOfRange)
}

func (s *Session) RemoveImage(slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.slotLocked(slot)
	if err != nil || *ref == nil {
		return false
	}
	s.previews.Revoke((*ref).Preview)
	*ref = nil
	s.touchLocked()
	return true
}

func (s *Session) Image(slot int) (UploadedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.slotLocked(slot)
	if err != nil || *ref == nil {
		return UploadedImage{}, false
	}
	return **ref, true
}

func (s *Session) slotLocked(slot int) (**UploadedImage, error) {
	if slot == StyleReferenceSlot {
		return &s.styleRef, nil
	}
	if slot < 1 || slot > MaxProductImages {
		return nil, fmt.Errorf("slot %d: %w", slot, ErrSlotOutOfRange)
	}
	return &s.products[slot-1], nil
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: s.ID,
		Guest:     s.Guest,
		Selection: s.selection,
	}
	for _, p := range s.products {
		if p != nil {
			snap.Products = append(snap.Products, *p)
		}
	}
	sort.Slice(snap.Products, func(i, j int) bool { return snap.Products[i].Slot < snap.Products[j].Slot })
	if s.styleRef != nil {
		ref := *s.styleRef
		snap.StyleReference = &ref
	}
	return snap
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Begin moves an idle session to Submitting. validate runs under the session
// lock against the snapshot that will be generated from; if it fails the
// session is left untouched.
func (s *Session) Begin(validate func(Snapshot) error) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.InFlight() {
		return Snapshot{}, ErrInFlight
	}
	snap := s.snapshotLocked()
	if validate != nil {
		if err := validate(snap); err != nil {
			return Snapshot{}, err
		}
	}

	s.phase = PhaseSubmitting
	s.processing = ProcessingState{Loading: true}
	s.touchLocked()
	return snap, nil
}

// Advance moves an in-flight session to the next phase. It never starts a
// request; that is Begin's job.
func (s *Session) Advance(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.InFlight() || !p.InFlight() {
		return
	}
	s.phase = p
}

// SetStatus updates the rotating status text of an in-flight request.
func (s *Session) SetStatus(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.InFlight() {
		return
	}
	s.processing.Status = msg
}

// Succeed records a generated image and returns the session to Idle.
func (s *Session) Succeed(img GeneratedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Add(img)
	s.phase = PhaseIdle
	s.processing = ProcessingState{}
	s.touchLocked()
}

// Fail records msg and returns the session to Idle with history untouched.
func (s *Session) Fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == "" {
		msg = "generation failed"
	}
	s.phase = PhaseIdle
	s.processing = ProcessingState{Error: msg}
	s.touchLocked()
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Processing() ProcessingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Session) History() []GeneratedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Items()
}

func (s *Session) ActiveResult() (GeneratedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Active()
}

func (s *Session) Result(id string) (GeneratedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Get(id)
}

func (s *Session) SelectResult(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.history.Select(id)
}

func (s *Session) RemoveResult(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.history.Remove(id)
}

// Release drops uploads, selection and history and revokes every preview.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.products {
		if p != nil {
			s.previews.Revoke(p.Preview)
			s.products[i] = nil
		}
	}
	if s.styleRef != nil {
		s.previews.Revoke(s.styleRef.Preview)
		s.styleRef = nil
	}
	s.selection = NewSelection()
	s.history.Clear()
	s.processing = ProcessingState{}
}
