package mapping

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"intake/internal/model"
)

var (
	// ErrNameRequired blocks confirmation of a mapping with no column
	// assigned to the mandatory name field.
	ErrNameRequired = errors.New("mapping must assign a source column to the name field")

	// ErrAlreadyConfirmed rejects mutations after confirmation.
	ErrAlreadyConfirmed = errors.New("mapping already confirmed")
)

// ConfirmFunc commits a confirmed mapping, typically by persisting it and
// attaching it to the batch.
type ConfirmFunc func(mapping map[string]string) error

// Session is one interactive mapping workflow for a single batch. It owns
// the working mapping, the auto-accept timer and the confirmation guard.
type Session struct {
	resolver  *Resolver
	onConfirm ConfirmFunc

	mu        sync.Mutex
	working   map[string]string
	timer     *time.Timer
	confirmed bool
}

// NewSession suggests a mapping for the detected columns and, when the
// suggestion is high-confidence, schedules auto-confirmation after the
// configured delay. Any user mutation before the delay elapses cancels
// the timer deterministically.
func (r *Resolver) NewSession(columns []string, onConfirm ConfirmFunc) *Session {
	s := &Session{
		resolver:  r,
		onConfirm: onConfirm,
		working:   r.Suggest(columns),
	}

	if AutoAcceptable(s.working) {
		log.Debug().
			Int("columns", len(columns)).
			Dur("delay", r.cfg.AutoAcceptDelay).
			Msg("High-confidence mapping, scheduling auto-confirm")
		s.timer = time.AfterFunc(r.cfg.AutoAcceptDelay, s.autoConfirm)
	}

	return s
}

// Mapping returns a copy of the working mapping.
func (s *Session) Mapping() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.working))
	for k, v := range s.working {
		out[k] = v
	}
	return out
}

// Assign maps one source column to a canonical field. A non-ignore field
// already claimed by another column is rejected. Any assignment counts as
// user interaction and cancels a pending auto-confirm.
func (s *Session) Assign(column, field string) error {
	if !s.resolver.KnownField(field) {
		return fmt.Errorf("unknown target field %q", field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.confirmed {
		return ErrAlreadyConfirmed
	}
	s.cancelTimerLocked()

	if field != model.IgnoreField {
		for other, assigned := range s.working {
			if other != column && assigned == field {
				return fmt.Errorf("field %q is already assigned to column %q", field, other)
			}
		}
	}

	s.working[column] = field
	return nil
}

// ApplySaved replaces the entire working mapping with a saved one. Not a
// merge: columns absent from the saved mapping become unmapped.
func (s *Session) ApplySaved(saved model.SavedMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.confirmed {
		return ErrAlreadyConfirmed
	}
	s.cancelTimerLocked()

	s.working = make(map[string]string, len(saved.Mapping))
	for column, field := range saved.Mapping {
		s.working[column] = field
	}
	return nil
}

// CancelAutoAccept cancels a pending auto-confirm without touching the
// mapping.
func (s *Session) CancelAutoAccept() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked()
}

// AutoAcceptPending reports whether an auto-confirm is still scheduled.
func (s *Session) AutoAcceptPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil && !s.confirmed
}

// Confirm validates and commits the working mapping. Fails fast when no
// column maps to the mandatory name field.
func (s *Session) Confirm() error {
	s.mu.Lock()
	if s.confirmed {
		s.mu.Unlock()
		return ErrAlreadyConfirmed
	}
	s.cancelTimerLocked()

	mapping := make(map[string]string, len(s.working))
	hasName := false
	for column, field := range s.working {
		mapping[column] = field
		if field == FieldName {
			hasName = true
		}
	}
	if !hasName {
		s.mu.Unlock()
		return ErrNameRequired
	}
	s.confirmed = true
	s.mu.Unlock()

	if s.onConfirm != nil {
		if err := s.onConfirm(mapping); err != nil {
			// Commit failed; reopen the session so the user can fix and
			// confirm again.
			s.mu.Lock()
			s.confirmed = false
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

// Confirmed reports whether the session has been committed.
func (s *Session) Confirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed
}

// autoConfirm is the timer callback. Validation failures are logged, not
// surfaced: auto-accept is a convenience, never an error path.
func (s *Session) autoConfirm() {
	s.mu.Lock()
	if s.confirmed || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	if err := s.Confirm(); err != nil {
		log.Debug().Err(err).Msg("Auto-confirm skipped")
	}
}

// cancelTimerLocked stops a pending auto-confirm. Called with the lock
// held.
func (s *Session) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
