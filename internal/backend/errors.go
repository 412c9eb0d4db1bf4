package backend

import "fmt"

// LookupKind tags the two outcomes a failed profile lookup can have.
type LookupKind string

const (
	// LookupNotFound: the backend has no record for the subject. The only
	// variant that authorizes provisioning.
	LookupNotFound LookupKind = "not_found"
	// LookupTransient: anything else - network, 5xx, malformed response.
	LookupTransient LookupKind = "transient"
)

// LookupError is the tagged result of a failed profile lookup. Callers branch
// on Kind and never inspect transport-layer shapes themselves.
type LookupError struct {
	Kind    LookupKind
	Status  int
	Code    string
	Message string
}

func (e *LookupError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LookupError) IsNotFound() bool {
	return e != nil && e.Kind == LookupNotFound
}

// Fingerprint identifies the error condition for provisioning-guard
// deduplication. Only the status and code participate: message payloads can
// carry timestamps or trace ids that vary between otherwise identical errors.
func (e *LookupError) Fingerprint() string {
	return fmt.Sprintf("%d/%s", e.Status, e.Code)
}

// CreationError is a failed profile creation. Creation is not idempotent
// server-side, so callers gate retries themselves.
type CreationError struct {
	Status  int
	Message string
}

func (e *CreationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("create profile failed (status %d): %s", e.Status, e.Message)
}
