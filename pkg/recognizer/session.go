package recognizer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/mynaparrot/v2tic-server/pkg/config"
)

type State int

const (
	StateIdle State = iota
	StateStarted
	StateRecognizing
	StateRecognized
	StateStopped
	StateCanceled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateRecognizing:
		return "recognizing"
	case StateRecognized:
		return "recognized"
	case StateStopped:
		return "stopped"
	case StateCanceled:
		return "canceled"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s State) terminal() bool {
	return s >= StateStopped
}

// Utterance is one final recognized segment.
type Utterance struct {
	Lexical    string
	Display    string
	ITN        string
	Confidence float64
	Language   string
}

// Session bridges callback driven recognition events to a blocking Wait.
// Event methods are safe to call from SDK threads.
type Session struct {
	mu         sync.Mutex
	state      State
	utterances []Utterance
	err        error
	done       chan struct{}
	doneOnce   sync.Once
}

func NewSession() *Session {
	return &Session{done: make(chan struct{})}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) OnStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateStarted
	}
}

func (s *Session) OnRecognizing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStarted || s.state == StateRecognized {
		s.state = StateRecognizing
	}
}

// OnRecognized records a final segment. Segments without text are dropped.
func (s *Session) OnRecognized(u Utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle || s.state.terminal() {
		return
	}
	s.state = StateRecognized
	if strings.TrimSpace(u.Lexical) == "" && strings.TrimSpace(u.Display) == "" {
		return
	}
	s.utterances = append(s.utterances, u)
}

func (s *Session) OnStopped() {
	s.finish(StateStopped, nil)
}

// OnCanceled ends the session. A nil err is a normal end of stream; any
// other cancellation discards the segments captured so far.
func (s *Session) OnCanceled(err error) {
	if err == nil {
		s.finish(StateStopped, nil)
		return
	}
	s.finish(StateCanceled, err)
}

func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	if err != nil {
		s.err = err
		s.utterances = nil
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Close releases a session; later events are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.state.terminal() {
		s.err = fmt.Errorf("%w: session closed before completion", config.ErrRecognizer)
		s.utterances = nil
	}
	s.state = StateClosed
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session reaches a terminal state or ctx ends.
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", config.ErrRecognizer, ctx.Err())
	}
	return s.Result()
}

// Result aggregates the captured segments. The confidence is the lowest
// per-segment confidence as an integer percentage.
func (s *Session) Result() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		if s.state == StateCanceled {
			return nil, fmt.Errorf("%w: canceled: %v", config.ErrRecognizer, s.err)
		}
		return nil, s.err
	}

	res := &Result{}
	var lexical, display, itn []string
	seen := make(map[string]bool)
	minConfidence := math.Inf(1)

	for _, u := range s.utterances {
		lexical = appendNonBlank(lexical, u.Lexical)
		display = appendNonBlank(display, u.Display)
		itn = appendNonBlank(itn, u.ITN)
		if u.Confidence < minConfidence {
			minConfidence = u.Confidence
		}
		if u.Language != "" && !seen[u.Language] {
			seen[u.Language] = true
			res.DetectedLanguages = append(res.DetectedLanguages, u.Language)
		}
	}

	res.Text = strings.Join(lexical, " ")
	res.DisplayText = strings.Join(display, " ")
	res.ITNText = strings.Join(itn, " ")
	if len(s.utterances) > 0 {
		c := int(math.Round(minConfidence * 100))
		c = max(0, min(100, c))
		res.Confidence = &c
	}
	return res, nil
}

func appendNonBlank(list []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		list = append(list, s)
	}
	return list
}
