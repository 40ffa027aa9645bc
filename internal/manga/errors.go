package manga

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound means no provider had a record for the requested id.
	ErrNotFound = errors.New("content not found")
	// ErrUnknownSource means a source hint named no registered provider.
	ErrUnknownSource = errors.New("unknown source")
	// ErrDuplicate means the user already tracks the title.
	ErrDuplicate = errors.New("title already tracked")
	// ErrNoRows means an update targeted a missing record.
	ErrNoRows = errors.New("record not found")
)

// Strategy names for attempts that talk to the upstream itself. Relay
// attempts are named after their position in the proxy list.
const (
	StrategyDirect   = "direct"
	StrategyHeadless = "headless"
)

// AttemptError records why one strategy in the fetch chain failed.
type AttemptError struct {
	Strategy   string
	URL        string
	StatusCode int
	Err        error
}

func (a AttemptError) Error() string {
	name := a.Strategy
	if name == "" {
		name = "attempt"
	}
	if a.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", name, a.StatusCode, a.Err)
	}
	return fmt.Sprintf("%s: %v", name, a.Err)
}

func (a AttemptError) Unwrap() error {
	return a.Err
}

// TransportError is returned once every strategy of the fetch chain has failed.
type TransportError struct {
	URL      string
	Attempts []AttemptError
}

func (e *TransportError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("fetch %s failed after %d attempts: %s", e.URL, len(e.Attempts), strings.Join(parts, "; "))
}

// Gone reports whether the upstream itself answered 404 or 410. Statuses from
// relay proxies are ignored since a relay may fail for reasons of its own.
func (e *TransportError) Gone() bool {
	for _, a := range e.Attempts {
		if a.Strategy != StrategyDirect && a.Strategy != StrategyHeadless {
			continue
		}
		if a.StatusCode == http.StatusNotFound || a.StatusCode == http.StatusGone {
			return true
		}
	}
	return false
}

// IsTransport reports whether err wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsGone reports whether err is a TransportError whose upstream said the record does not exist.
func IsGone(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Gone()
}
