package scanner

import (
	"errors"
	"fmt"
)

// ErrorKind classifies scanner failures. Each stage tags the errors it
// detects directly so callers never have to inspect message text.
type ErrorKind int

const (
	// ErrKindConfig marks invalid scan configuration. Fatal.
	ErrKindConfig ErrorKind = iota
	// ErrKindRootAccess marks an unreadable or missing library root. Fatal.
	ErrKindRootAccess
	// ErrKindDiscovery marks a per-entry traversal failure. Recoverable.
	ErrKindDiscovery
	// ErrKindExtraction marks a per-file metadata decode failure. Recoverable.
	ErrKindExtraction
	// ErrKindTimeout marks an extraction that exceeded the per-file timeout. Recoverable.
	ErrKindTimeout
	// ErrKindCommit marks a batch commit that failed after retry. Recoverable.
	ErrKindCommit
	// ErrKindPersistence marks an unreachable persistence sink. Fatal.
	ErrKindPersistence
	// ErrKindState marks an illegal lifecycle transition.
	ErrKindState
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindConfig:
		return "config"
	case ErrKindRootAccess:
		return "root_access"
	case ErrKindDiscovery:
		return "discovery"
	case ErrKindExtraction:
		return "extraction"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindCommit:
		return "commit"
	case ErrKindPersistence:
		return "persistence"
	case ErrKindState:
		return "state"
	default:
		return "unknown"
	}
}

// ScanError is the uniform error type for all fallible scanner operations
type ScanError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("scan %s error at %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("scan %s error: %v", e.Kind, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the error aborts a scan rather than being
// absorbed into the error counters.
func (e *ScanError) IsFatal() bool {
	switch e.Kind {
	case ErrKindConfig, ErrKindRootAccess, ErrKindPersistence:
		return true
	}
	return false
}

func newScanError(kind ErrorKind, path string, err error) *ScanError {
	return &ScanError{Kind: kind, Path: path, Err: err}
}

// ErrorKindOf extracts the kind from an error chain, returning false when
// the error did not originate in the scanner.
func ErrorKindOf(err error) (ErrorKind, bool) {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}
