package handlers

import (
	"sync"
	"time"
)

// awaiting tells how the next free-text message or photo of a user is read.
type awaiting int

const (
	awaitNone awaiting = iota
	awaitStyleRef
	awaitDescription
)

// UIState is the bot-side view state of one user in one chat. Studio state
// (selection, images, results) lives in the studio session.
type UIState struct {
	MessageID int
	Menu      string // "main" | a category name | "format" | "templates" | "photos" | "history"
	Awaiting  awaiting
	UpdatedAt time.Time
}

type stateKey struct {
	ChatID int64
	UserID int64
}

type uiStore struct {
	mu sync.Mutex
	m  map[stateKey]*UIState
}

func newUIStore() *uiStore {
	return &uiStore{m: make(map[stateKey]*UIState)}
}

func (s *uiStore) Get(chatID, userID int64) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreateLocked(chatID, userID)
}

func (s *uiStore) Update(chatID, userID int64, fn func(*UIState)) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(chatID, userID)
	if fn != nil {
		fn(st)
	}
	st.UpdatedAt = time.Now()
	return *st
}

func (s *uiStore) Delete(chatID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, stateKey{ChatID: chatID, UserID: userID})
}

// Sweep drops states untouched since before cutoff.
func (s *uiStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, st := range s.m {
		if st.UpdatedAt.Before(cutoff) {
			delete(s.m, key)
			n++
		}
	}
	return n
}

func (s *uiStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *uiStore) getOrCreateLocked(chatID, userID int64) *UIState {
	key := stateKey{ChatID: chatID, UserID: userID}
	if st, ok := s.m[key]; ok {
		return st
	}
	st := &UIState{Menu: menuMain, UpdatedAt: time.Now()}
	s.m[key] = st
	return st
}
