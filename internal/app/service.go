// Package app manages per-session reconcilers and exposes them over HTTP.
package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenthq/gateway/internal/backend"
	"agenthq/gateway/internal/config"
	"agenthq/gateway/internal/identity"
	"agenthq/gateway/internal/profilecache"
	"agenthq/gateway/internal/reconcile"
)

const reapInterval = time.Minute

// Service owns one reconciler per authenticated bearer token. Sessions are
// keyed by token hash and reaped after SessionIdleTTL without traffic.
type Service struct {
	cfg      config.Config
	identity *identity.Client
	cache    profilecache.Store

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	done     chan struct{}
	reapOnce sync.Once
}

type sessionEntry struct {
	id         string
	reconciler *reconcile.Reconciler
	profiles   *profilecache.Client
	lastSeen   time.Time
}

func New(cfg config.Config, ident *identity.Client, cache profilecache.Store) *Service {
	s := &Service{
		cfg:      cfg,
		identity: ident,
		cache:    cache,
		sessions: make(map[string]*sessionEntry),
		done:     make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// Close stops the background session reaper.
func (s *Service) Close() {
	s.reapOnce.Do(func() {
		close(s.done)
	})
}

// boundIdentity fixes a token to the shared identity client so a session's
// reconciler can ask for "the current principal" without carrying the token.
type boundIdentity struct {
	client *identity.Client
	token  string
}

func (b *boundIdentity) CurrentPrincipal(ctx context.Context) (identity.Principal, error) {
	return b.client.CurrentPrincipal(ctx, b.token)
}

func (s *Service) session(token string) *sessionEntry {
	key := hashToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[key]; ok {
		entry.lastSeen = time.Now()
		return entry
	}

	client := backend.NewClient(s.cfg.BackendBaseURL, func() string { return token })
	profiles := profilecache.New(client, s.cache)
	entry := &sessionEntry{
		id:         uuid.NewString(),
		profiles:   profiles,
		reconciler: reconcile.New(&boundIdentity{client: s.identity, token: token}, profiles, s.cfg.ProvisionCooldown),
		lastSeen:   time.Now(),
	}
	s.sessions[key] = entry
	return entry
}

// SessionView is what the HTTP layer renders for one session.
type SessionView struct {
	SessionID string
	State     reconcile.SessionState
	Profile   *backend.ProfileRecord
}

func (s *Service) view(entry *sessionEntry) SessionView {
	view := SessionView{
		SessionID: entry.id,
		State:     entry.reconciler.SessionState(),
	}
	if record, ok := entry.reconciler.Profile(); ok {
		view.Profile = &record
	}
	return view
}

// Session runs a full reconciliation pass for the token's session and
// returns the resulting state.
func (s *Service) Session(ctx context.Context, token string) SessionView {
	entry := s.session(token)
	entry.reconciler.Reconcile(ctx)
	return s.view(entry)
}

// Profile returns the session's profile record, reconciling first if the
// session has not produced one yet.
func (s *Service) Profile(ctx context.Context, token string) (backend.ProfileRecord, bool) {
	entry := s.session(token)
	if _, ok := entry.reconciler.Profile(); !ok {
		entry.reconciler.Reconcile(ctx)
	}
	return entry.reconciler.Profile()
}

// RefetchProfile drops the cached record for the session's subject and
// re-issues the lookup.
func (s *Service) RefetchProfile(ctx context.Context, token string) SessionView {
	entry := s.session(token)
	state := entry.reconciler.SessionState()
	if !state.IsAuthenticated {
		entry.reconciler.Reconcile(ctx)
		return s.view(entry)
	}
	if state.SubjectID != "" {
		_ = entry.profiles.Invalidate(ctx, state.SubjectID)
	}
	entry.reconciler.RefetchProfile(ctx)
	return s.view(entry)
}

// RetryProvisioning force-resets the session's provisioning guard and runs a
// fresh pass, allowing one new creation attempt ahead of the cooldown.
func (s *Service) RetryProvisioning(ctx context.Context, token string) SessionView {
	entry := s.session(token)
	entry.reconciler.RetryProvisioning()
	entry.reconciler.Reconcile(ctx)
	return s.view(entry)
}

// Ping reports cache-backend health for the readiness endpoint. The in-memory
// backend has nothing to check.
func (s *Service) Ping(ctx context.Context) error {
	if pinger, ok := s.cache.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (s *Service) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.reapIdleSessions(time.Now())
		}
	}
}

func (s *Service) reapIdleSessions(now time.Time) {
	ttl := s.cfg.SessionIdleTTL
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.sessions {
		if now.Sub(entry.lastSeen) > ttl {
			delete(s.sessions, key)
		}
	}
}

func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
