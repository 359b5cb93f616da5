package tunnel

import (
	"regexp"
	"sync"
)

// =============================================================================
// URL Scanner State Machine
// =============================================================================

// scanState tracks the lifecycle of a single provisioning attempt's output
// scan: waiting for a URL, matched one, gave up on timeout, or errored out.
type scanState int

const (
	stateWaiting scanState = iota
	stateMatched
	stateTimedOut
	stateErrored
)

func (s scanState) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case stateMatched:
		return "matched"
	case stateTimedOut:
		return "timed-out"
	case stateErrored:
		return "errored"
	}
	return "unknown"
}

// urlScanner incrementally consumes output lines from the tunnel subprocess
// and latches the first line fragment matching the provider's URL pattern.
// feed runs on the output-draining goroutine while finish is called from the
// provisioning goroutine, so the state is mutex-guarded.
type urlScanner struct {
	pattern *regexp.Regexp

	mu    sync.Mutex
	state scanState
	url   string
}

func newURLScanner(pattern *regexp.Regexp) *urlScanner {
	return &urlScanner{pattern: pattern, state: stateWaiting}
}

// feed consumes one output line. It returns the matched URL and true on the
// first match; subsequent lines are ignored once a terminal state is reached.
func (s *urlScanner) feed(line string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateWaiting {
		return "", false
	}
	match := s.pattern.FindString(line)
	if match == "" {
		return "", false
	}
	s.state = stateMatched
	s.url = match
	return match, true
}

// finish moves the scanner to a terminal failure state if it is still waiting.
func (s *urlScanner) finish(to scanState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateWaiting {
		s.state = to
	}
}

// current returns the scanner's state and latched URL.
func (s *urlScanner) current() (scanState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.url
}
