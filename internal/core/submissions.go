package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/agenthands/tavern/internal/core/dialogue"
)

// submissions remembers recent results so a resent submission returns the
// first result instead of acting twice. Failures are never remembered.
type submissions struct {
	window  time.Duration
	entries map[string]seenResult
}

type seenResult struct {
	result Result
	at     time.Time
}

func newSubmissions(window time.Duration) *submissions {
	return &submissions{window: window, entries: make(map[string]seenResult)}
}

// submissionKey prefers the caller's id. Without one, the same actor sending
// the same text against the same session state inside the window counts as
// a resend.
func submissionKey(sub Submission, state string) string {
	if sub.ID != "" {
		return "id:" + sub.ID
	}
	text := strings.Join(strings.Fields(strings.ToLower(sub.Text)), " ")
	sum := sha256.Sum256([]byte(sub.ActorID + "\x00" + state + "\x00" + text))
	return "text:" + hex.EncodeToString(sum[:12])
}

// sessionState names the open session and how far it has got.
func sessionState(s *dialogue.Session) string {
	if s == nil {
		return "none"
	}
	return s.ID + "#" + strconv.Itoa(s.ExchangeCount())
}

func (s *submissions) get(key string, now time.Time) (Result, bool) {
	if s.window <= 0 {
		return Result{}, false
	}
	for k, e := range s.entries {
		if now.Sub(e.at) > s.window {
			delete(s.entries, k)
		}
	}
	e, ok := s.entries[key]
	return e.result, ok
}

func (s *submissions) put(key string, r Result, now time.Time) {
	if s.window <= 0 {
		return
	}
	s.entries[key] = seenResult{result: r, at: now}
}

// forget drops every remembered result. Called when a session closes without
// resolving, so the same input may start over.
func (s *submissions) forget() {
	clear(s.entries)
}
