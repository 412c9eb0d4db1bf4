package reconcile

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"agenthq/gateway/internal/backend"
	"agenthq/gateway/internal/identity"
)

type fakeIdentity struct {
	principal identity.Principal
	err       error
}

func (f *fakeIdentity) CurrentPrincipal(ctx context.Context) (identity.Principal, error) {
	if f.err != nil {
		return identity.Principal{}, f.err
	}
	return f.principal, nil
}

// fakeProfiles reports not-found (or a configured error) until a creation
// succeeds, then serves the created record.
type fakeProfiles struct {
	mu          sync.Mutex
	findErr     error
	createErr   error
	record      backend.ProfileRecord
	hasRecord   bool
	findCalls   int
	createCalls int
	lastCreate  backend.CreateProfileRequest
}

func (f *fakeProfiles) FindProfile(ctx context.Context, subjectID string) (backend.ProfileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.hasRecord {
		return f.record, nil
	}
	return backend.ProfileRecord{}, f.findErr
}

func (f *fakeProfiles) CreateProfile(ctx context.Context, req backend.CreateProfileRequest) (backend.ProfileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastCreate = req
	if f.createErr != nil {
		return backend.ProfileRecord{}, f.createErr
	}
	f.record = backend.ProfileRecord{
		ID:        "usr_1",
		SubID:     req.SubID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		IsActive:  true,
	}
	f.hasRecord = true
	return f.record, nil
}

func (f *fakeProfiles) counts() (finds, creates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findCalls, f.createCalls
}

func notFoundErr() *backend.LookupError {
	return &backend.LookupError{
		Kind:    backend.LookupNotFound,
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: "User not found",
	}
}

func transientErr() *backend.LookupError {
	return &backend.LookupError{
		Kind:    backend.LookupTransient,
		Status:  http.StatusInternalServerError,
		Code:    "UPSTREAM",
		Message: "backend returned status 500",
	}
}

func testPrincipal() identity.Principal {
	return identity.Principal{
		SubjectID:   "abc123",
		Email:       "a@b.com",
		DisplayName: "A B",
	}
}

func TestReconcileUnauthenticated(t *testing.T) {
	ident := &fakeIdentity{err: identity.ErrNotAuthenticated}
	profiles := &fakeProfiles{findErr: notFoundErr()}
	r := New(ident, profiles, 0)

	r.Reconcile(context.Background())

	state := r.SessionState()
	if state.IsLoading {
		t.Error("expected IsLoading to be false after pass")
	}
	if state.IsAuthenticated {
		t.Error("expected IsAuthenticated to be false")
	}
	if finds, creates := profiles.counts(); finds != 0 || creates != 0 {
		t.Errorf("expected no backend calls, got %d finds, %d creates", finds, creates)
	}
}

func TestReconcileProfileFound(t *testing.T) {
	ident := &fakeIdentity{principal: testPrincipal()}
	profiles := &fakeProfiles{
		hasRecord: true,
		record:    backend.ProfileRecord{ID: "usr_1", SubID: "abc123", Email: "a@b.com", IsActive: true},
	}
	r := New(ident, profiles, 0)

	r.Reconcile(context.Background())

	state := r.SessionState()
	if !state.IsAuthenticated {
		t.Fatal("expected authenticated session")
	}
	if state.SubjectID != "abc123" {
		t.Errorf("expected subjectId abc123, got %s", state.SubjectID)
	}
	record, ok := r.Profile()
	if !ok {
		t.Fatal("expected profile to be set")
	}
	if record.SubID != "abc123" {
		t.Errorf("expected profile sub abc123, got %s", record.SubID)
	}
	if _, creates := profiles.counts(); creates != 0 {
		t.Errorf("expected no creation calls, got %d", creates)
	}
}

func TestReconcileTransientError(t *testing.T) {
	ident := &fakeIdentity{principal: testPrincipal()}
	profiles := &fakeProfiles{findErr: transientErr()}
	r := New(ident, profiles, 0)

	r.Reconcile(context.Background())

	state := r.SessionState()
	if state.Error == "" {
		t.Error("expected transient error to surface in session state")
	}
	if _, creates := profiles.counts(); creates != 0 {
		t.Errorf("expected zero creation calls for transient error, got %d", creates)
	}
	if r.creationAttempted {
		t.Error("expected creationAttempted to remain false")
	}
}

func TestAutoProvision(t *testing.T) {
	ident := &fakeIdentity{principal: testPrincipal()}
	profiles := &fakeProfiles{findErr: notFoundErr()}
	r := New(ident, profiles, 0)

	r.Reconcile(context.Background())

	if _, creates := profiles.counts(); creates != 1 {
		t.Fatalf("expected exactly one creation call, got %d", creates)
	}

	req := profiles.lastCreate
	if req.SubID != "abc123" {
		t.Errorf("expected sub_id abc123, got %s", req.SubID)
	}
	if req.FirstName != "A" || req.LastName != "B" {
		t.Errorf("expected name A/B, got %s/%s", req.FirstName, req.LastName)
	}
	if req.Email != "a@b.com" {
		t.Errorf("expected email a@b.com, got %s", req.Email)
	}
	if req.Mobile != "" {
		t.Errorf("expected empty mobile, got %s", req.Mobile)
	}

	// Creation success resets the guard and triggers a follow-up lookup for
	// the server-assigned record.
	if r.creationAttempted {
		t.Error("expected creationAttempted reset after success")
	}
	if r.lastHandledError != "" {
		t.Error("expected lastHandledError cleared after success")
	}
	record, ok := r.Profile()
	if !ok {
		t.Fatal("expected profile after provisioning")
	}
	if record.ID != "usr_1" {
		t.Errorf("expected server-assigned record, got %+v", record)
	}
	if state := r.SessionState(); state.Error != "" {
		t.Errorf("expected no error after successful provisioning, got %q", state.Error)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	ident := &fakeIdentity{principal: testPrincipal()}
	profiles := &fakeProfiles{findErr: notFoundErr(), createErr: &backend.CreationError{Status: 500, Message: "boom"}}
	r := New(ident, profiles, time.Minute)

	for i := 0; i < 5; i++ {
		r.Reconcile(context.Background())
	}

	if _, creates := profiles.counts(); creates != 1 {
		t.Errorf("expected exactly one creation attempt before cooldown, got %d", creates)
	}
	if state := r.SessionState(); state.Error != "Failed to create user profile" {
		t.Errorf("expected creation failure message, got %q", state.Error)
	}
	if !r.creationAttempted {
		t.Error("expected creationAttempted to stay true during cooldown")
	}
}

func TestCooldownExpiryAllowsNewAttempt(t *testing.T) {
	ident := &fakeIdentity{principal: testPrincipal()}
	profiles := &fakeProfiles{findErr: notFoundErr(), createErr: &backend.CreationError{Status: 500, Message: "boom"}}
	r := New(ident, profiles, 20*time.Millisecond)

	r.Reconcile(context.Background())
	if _, creates := profiles.counts(); creates != 1 {
		t.Fatalf("expected one creation attempt, got %d", creates)
	}

	time.Sleep(60 * time.Millisecond)

	r.Reconcile(context.Background())
	if _, creates := profiles.counts(); creates != 2 {
		t.Errorf("expected second attempt after cooldown, got %d", creates)
	}
}

func TestRetryProvisioningBypassesCooldown(t *testing.T) {
	ident := &fakeIdentity{principal: testPrincipal()}
	profiles := &fakeProfiles{findErr: notFoundErr(), createErr: &backend.CreationError{Status: 500, Message: "boom"}}
	r := New(ident, profiles, time.Hour)

	r.Reconcile(context.Background())
	r.Reconcile(context.Background())
	if _, creates := profiles.counts(); creates != 1 {
		t.Fatalf("expected one creation attempt, got %d", creates)
	}

	profiles.mu.Lock()
	profiles.createErr = nil
	profiles.mu.Unlock()

	r.RetryProvisioning()
	r.Reconcile(context.Background())

	if _, creates := profiles.counts(); creates != 2 {
		t.Errorf("expected retry to allow exactly one new attempt, got %d", creates)
	}
	if _, ok := r.Profile(); !ok {
		t.Error("expected profile after successful retry")
	}
}

func TestGuardWaitsForCompleteIdentity(t *testing.T) {
	ident := &fakeIdentity{principal: identity.Principal{SubjectID: "abc123", DisplayName: "A B"}}
	profiles := &fakeProfiles{findErr: notFoundErr()}
	r := New(ident, profiles, 0)

	r.Reconcile(context.Background())

	if _, creates := profiles.counts(); creates != 0 {
		t.Errorf("expected no creation with missing email, got %d", creates)
	}
	if state := r.SessionState(); state.Error != "" {
		t.Errorf("expected silent abort, got error %q", state.Error)
	}

	// Email resolves later; the next pass provisions.
	ident.principal.Email = "a@b.com"
	r.Reconcile(context.Background())
	if _, creates := profiles.counts(); creates != 1 {
		t.Errorf("expected one creation once identity is complete, got %d", creates)
	}
}

func TestRefetchProfileIdempotent(t *testing.T) {
	ident := &fakeIdentity{principal: testPrincipal()}
	profiles := &fakeProfiles{
		hasRecord: true,
		record:    backend.ProfileRecord{ID: "usr_1", SubID: "abc123"},
	}
	r := New(ident, profiles, 0)

	r.Reconcile(context.Background())
	r.RefetchProfile(context.Background())
	r.RefetchProfile(context.Background())

	if _, creates := profiles.counts(); creates != 0 {
		t.Errorf("expected no creation calls, got %d", creates)
	}
	if r.creationAttempted || r.lastHandledError != "" {
		t.Error("expected guard state unchanged by refetch")
	}
}

func TestSameFingerprintSuppressed(t *testing.T) {
	ident := &fakeIdentity{principal: testPrincipal()}
	profiles := &fakeProfiles{findErr: notFoundErr()}
	r := New(ident, profiles, 0)

	r.mu.Lock()
	r.lastHandledError = notFoundErr().Fingerprint()
	r.mu.Unlock()

	r.Reconcile(context.Background())

	if _, creates := profiles.counts(); creates != 0 {
		t.Errorf("expected already-handled error to be suppressed, got %d creates", creates)
	}
}

func TestSplitDisplayName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantFirst string
		wantLast  string
	}{
		{name: "two tokens", input: "Ada Lovelace", wantFirst: "Ada", wantLast: "Lovelace"},
		{name: "single token", input: "Ada", wantFirst: "Ada", wantLast: ""},
		{name: "many tokens", input: "Ada Augusta King Lovelace", wantFirst: "Ada", wantLast: "Augusta King Lovelace"},
		{name: "extra whitespace", input: "  Ada   Lovelace  ", wantFirst: "Ada", wantLast: "Lovelace"},
		{name: "empty", input: "", wantFirst: "", wantLast: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := SplitDisplayName(tt.input)
			if first != tt.wantFirst || last != tt.wantLast {
				t.Errorf("SplitDisplayName(%q) = %q, %q; want %q, %q", tt.input, first, last, tt.wantFirst, tt.wantLast)
			}
		})
	}
}
