// Package reconcile drives the session lifecycle: read the signed-in
// principal, look up the platform profile for it, and provision a profile
// record the first time an identity is seen.
package reconcile

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"agenthq/gateway/internal/backend"
	"agenthq/gateway/internal/identity"
)

// DefaultCooldown is how long a failed creation attempt blocks automatic
// retries. RetryProvisioning bypasses it.
const DefaultCooldown = 30 * time.Second

const creationFailedMessage = "Failed to create user profile"

// IdentityReader resolves the current principal for this session.
type IdentityReader interface {
	CurrentPrincipal(ctx context.Context) (identity.Principal, error)
}

// ProfileClient is the backend surface the reconciler drives. FindProfile
// failures must be *backend.LookupError so the guard can branch on kind.
type ProfileClient interface {
	FindProfile(ctx context.Context, subjectID string) (backend.ProfileRecord, error)
	CreateProfile(ctx context.Context, req backend.CreateProfileRequest) (backend.ProfileRecord, error)
}

// SessionState is the session as seen by callers. Mutated only by the
// reconciler's own steps.
type SessionState struct {
	IsLoading       bool   `json:"isLoading"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	SubjectID       string `json:"subjectId,omitempty"`
	Email           string `json:"email,omitempty"`
	DisplayName     string `json:"displayName,omitempty"`
	Country         string `json:"country,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Reconciler owns one session's state and the provisioning guard. One
// instance per active session; never shared across sessions.
type Reconciler struct {
	identity IdentityReader
	profiles ProfileClient
	cooldown time.Duration

	mu      sync.Mutex
	state   SessionState
	profile *backend.ProfileRecord

	// provisioning guard
	creationAttempted bool
	lastHandledError  string
	attemptSeq        uint64
	cooldownTimer     *time.Timer
}

func New(ident IdentityReader, profiles ProfileClient, cooldown time.Duration) *Reconciler {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Reconciler{
		identity: ident,
		profiles: profiles,
		cooldown: cooldown,
		state:    SessionState{IsLoading: true},
	}
}

// Reconcile runs one full pass: identity check, profile lookup, and, when the
// guard allows it, a single provisioning attempt followed by a fresh lookup.
// Identity always precedes lookup; lookup always precedes creation.
func (r *Reconciler) Reconcile(ctx context.Context) {
	principal, err := r.identity.CurrentPrincipal(ctx)
	if err != nil {
		if !errors.Is(err, identity.ErrNotAuthenticated) {
			log.Printf("reconcile: identity check failed: %v", err)
		}
		r.mu.Lock()
		r.state = SessionState{IsLoading: false, IsAuthenticated: false}
		r.profile = nil
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.state.IsLoading = false
	r.state.IsAuthenticated = true
	r.state.SubjectID = principal.SubjectID
	r.state.Email = principal.Email
	r.state.DisplayName = principal.DisplayName
	r.state.Country = principal.Country
	r.mu.Unlock()

	r.lookup(ctx)
}

// RefetchProfile re-issues the profile lookup for the current subject without
// a fresh identity check.
func (r *Reconciler) RefetchProfile(ctx context.Context) {
	r.lookup(ctx)
}

func (r *Reconciler) lookup(ctx context.Context) {
	r.mu.Lock()
	subjectID := r.state.SubjectID
	r.mu.Unlock()
	if subjectID == "" {
		return
	}

	record, err := r.profiles.FindProfile(ctx, subjectID)
	if err == nil {
		r.mu.Lock()
		r.profile = &record
		r.state.Error = ""
		r.mu.Unlock()
		return
	}

	var lookupErr *backend.LookupError
	if !errors.As(err, &lookupErr) || !lookupErr.IsNotFound() {
		// Transient: surface verbatim, never provision. The caller may
		// retry manually via RefetchProfile.
		r.mu.Lock()
		r.state.Error = err.Error()
		r.mu.Unlock()
		return
	}

	r.provision(ctx, lookupErr)
}

// provision creates a backend profile for a principal that has none, at most
// once per distinct lookup error. Overlapping triggers and partial identity
// data fall through silently; that is "waiting for more data", not failure.
func (r *Reconciler) provision(ctx context.Context, lookupErr *backend.LookupError) {
	r.mu.Lock()
	state := r.state
	if state.SubjectID == "" || state.Email == "" || state.DisplayName == "" {
		r.mu.Unlock()
		return
	}
	fingerprint := lookupErr.Fingerprint()
	if r.creationAttempted || fingerprint == r.lastHandledError {
		r.mu.Unlock()
		return
	}
	r.creationAttempted = true
	r.lastHandledError = fingerprint
	r.attemptSeq++
	seq := r.attemptSeq
	r.mu.Unlock()

	first, last := SplitDisplayName(state.DisplayName)
	_, err := r.profiles.CreateProfile(ctx, backend.CreateProfileRequest{
		SubID:     state.SubjectID,
		FirstName: first,
		LastName:  last,
		Email:     state.Email,
		Country:   state.Country,
		Mobile:    "",
	})
	if err != nil {
		log.Printf("reconcile: create profile for %s: %v", state.SubjectID, err)
		r.mu.Lock()
		r.state.Error = creationFailedMessage
		r.cooldownTimer = time.AfterFunc(r.cooldown, func() {
			r.expireCooldown(seq)
		})
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.creationAttempted = false
	r.lastHandledError = ""
	r.state.Error = ""
	r.mu.Unlock()

	// Fetch the canonical server-assigned record.
	r.lookup(ctx)
}

// expireCooldown re-arms the guard after a failed creation, unless a newer
// attempt or a manual retry superseded this one.
func (r *Reconciler) expireCooldown(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attemptSeq != seq {
		return
	}
	r.creationAttempted = false
	r.lastHandledError = ""
}

// RetryProvisioning force-resets the guard so an explicit user action can
// trigger a new creation attempt without waiting out the cooldown.
func (r *Reconciler) RetryProvisioning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cooldownTimer != nil {
		r.cooldownTimer.Stop()
		r.cooldownTimer = nil
	}
	r.attemptSeq++
	r.creationAttempted = false
	r.lastHandledError = ""
}

// SessionState returns a copy of the current session state.
func (r *Reconciler) SessionState() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Profile returns the last fetched profile record, if any.
func (r *Reconciler) Profile() (backend.ProfileRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return backend.ProfileRecord{}, false
	}
	return *r.profile, true
}

// SplitDisplayName splits a display name into first and last name parts: the
// first whitespace-delimited token is the first name, the remaining tokens
// rejoined with single spaces form the last name.
func SplitDisplayName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
