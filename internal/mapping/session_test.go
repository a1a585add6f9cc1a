package mapping

import (
	"errors"
	"sync"
	"testing"
	"time"

	"intake/internal/model"
)

func testResolver(delay time.Duration) *Resolver {
	cfg := DefaultConfig()
	cfg.AutoAcceptDelay = delay
	return NewResolver(cfg)
}

// commitSpy records confirmed mappings.
type commitSpy struct {
	mu       sync.Mutex
	mappings []map[string]string
	err      error
}

func (c *commitSpy) confirm(mapping map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.mappings = append(c.mappings, mapping)
	return nil
}

func (c *commitSpy) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mappings)
}

func (c *commitSpy) first() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mappings[0]
}

func TestConfirmRequiresName(t *testing.T) {
	spy := &commitSpy{}
	r := testResolver(time.Hour)
	s := r.NewSession([]string{"precio", "stock"}, spy.confirm)

	err := s.Confirm()
	if !errors.Is(err, ErrNameRequired) {
		t.Fatalf("Confirm() error = %v, want ErrNameRequired", err)
	}
	if spy.count() != 0 {
		t.Error("commit ran despite missing name assignment")
	}
	if s.Confirmed() {
		t.Error("session marked confirmed after rejected confirm")
	}

	// Assigning a name column unblocks confirmation.
	if err := s.Assign("precio", "name"); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := s.Confirm(); err != nil {
		t.Fatalf("Confirm() after fixing name = %v", err)
	}
	if spy.count() != 1 {
		t.Errorf("commits = %d, want 1", spy.count())
	}
}

func TestAutoAcceptFiresAfterDelay(t *testing.T) {
	spy := &commitSpy{}
	r := testResolver(20 * time.Millisecond)
	s := r.NewSession([]string{"Nombre", "Precio", "Stock"}, spy.confirm)

	if !s.AutoAcceptPending() {
		t.Fatal("high-confidence suggestion should schedule auto-accept")
	}

	deadline := time.After(2 * time.Second)
	for spy.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("auto-accept never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !s.Confirmed() {
		t.Error("session not confirmed after auto-accept")
	}
	got := spy.first()
	if got["Nombre"] != "name" || got["Precio"] != "price" || got["Stock"] != "cantidad" {
		t.Errorf("auto-accepted mapping = %v", got)
	}
}

func TestAssignCancelsAutoAccept(t *testing.T) {
	spy := &commitSpy{}
	r := testResolver(30 * time.Millisecond)
	s := r.NewSession([]string{"Nombre", "Precio", "Stock"}, spy.confirm)

	if err := s.Assign("Stock", model.IgnoreField); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if s.AutoAcceptPending() {
		t.Error("auto-accept still pending after user interaction")
	}

	time.Sleep(80 * time.Millisecond)
	if spy.count() != 0 {
		t.Error("auto-accept fired after being cancelled")
	}
	if s.Confirmed() {
		t.Error("session confirmed without an explicit confirm")
	}
}

func TestCancelAutoAccept(t *testing.T) {
	spy := &commitSpy{}
	r := testResolver(30 * time.Millisecond)
	s := r.NewSession([]string{"Nombre", "Precio"}, spy.confirm)

	s.CancelAutoAccept()
	time.Sleep(80 * time.Millisecond)

	if spy.count() != 0 {
		t.Error("auto-accept fired after cancel")
	}
}

func TestLowConfidenceSuggestionNeverAutoAccepts(t *testing.T) {
	spy := &commitSpy{}
	r := testResolver(10 * time.Millisecond)
	s := r.NewSession([]string{"col_a", "col_b"}, spy.confirm)

	if s.AutoAcceptPending() {
		t.Error("low-confidence suggestion scheduled auto-accept")
	}
	time.Sleep(50 * time.Millisecond)
	if spy.count() != 0 {
		t.Error("commit ran for a low-confidence suggestion")
	}
}

func TestAssignRejectsDuplicateTarget(t *testing.T) {
	r := testResolver(time.Hour)
	s := r.NewSession([]string{"Nombre", "Alias"}, nil)

	if err := s.Assign("Alias", "name"); err == nil {
		t.Error("assigning an already-claimed field should fail")
	}

	// Two columns may both be ignored.
	if err := s.Assign("Nombre", model.IgnoreField); err != nil {
		t.Errorf("Assign(ignore) error = %v", err)
	}
	if err := s.Assign("Alias", model.IgnoreField); err != nil {
		t.Errorf("second Assign(ignore) error = %v", err)
	}
}

func TestAssignUnknownField(t *testing.T) {
	r := testResolver(time.Hour)
	s := r.NewSession([]string{"Nombre"}, nil)

	if err := s.Assign("Nombre", "no_such_field"); err == nil {
		t.Error("unknown target field accepted")
	}
}

func TestApplySavedReplacesWholeMapping(t *testing.T) {
	r := testResolver(time.Hour)
	s := r.NewSession([]string{"Nombre", "Precio", "Stock"}, nil)

	saved := model.SavedMapping{
		ID:      "m1",
		Name:    "monthly products",
		Mapping: map[string]string{"Nombre": "name", "Stock": "cantidad"},
	}
	if err := s.ApplySaved(saved); err != nil {
		t.Fatalf("ApplySaved() error = %v", err)
	}

	got := s.Mapping()
	if len(got) != 2 {
		t.Fatalf("mapping size = %d, want 2 (replace, not merge)", len(got))
	}
	if _, ok := got["Precio"]; ok {
		t.Error("column absent from saved mapping survived ApplySaved")
	}
	if got["Stock"] != "cantidad" {
		t.Errorf("Stock = %q, want cantidad", got["Stock"])
	}
}

func TestConfirmIsFinal(t *testing.T) {
	r := testResolver(time.Hour)
	s := r.NewSession([]string{"Nombre", "Precio"}, nil)

	if err := s.Confirm(); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	if err := s.Confirm(); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Errorf("second Confirm() = %v, want ErrAlreadyConfirmed", err)
	}
	if err := s.Assign("Precio", model.IgnoreField); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Errorf("Assign() after confirm = %v, want ErrAlreadyConfirmed", err)
	}
	if err := s.ApplySaved(model.SavedMapping{}); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Errorf("ApplySaved() after confirm = %v, want ErrAlreadyConfirmed", err)
	}
}

func TestConfirmReopensOnCommitFailure(t *testing.T) {
	spy := &commitSpy{err: errors.New("service unavailable")}
	r := testResolver(time.Hour)
	s := r.NewSession([]string{"Nombre", "Precio"}, spy.confirm)

	if err := s.Confirm(); err == nil {
		t.Fatal("Confirm() should surface the commit error")
	}
	if s.Confirmed() {
		t.Error("session stayed confirmed after failed commit")
	}

	spy.err = nil
	if err := s.Confirm(); err != nil {
		t.Fatalf("Confirm() retry error = %v", err)
	}
}
