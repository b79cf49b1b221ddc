package app

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is a stage of one resolve-then-play-or-download run.
type State string

const (
	StateIdle           State = "idle"
	StateSearching      State = "searching"
	StateNotFound       State = "not_found"
	StateFound          State = "found"
	StateFetchingStream State = "fetching_stream"
	StateStreamReady    State = "stream_ready"
	StateNoAudio        State = "no_audio"
	StatePlaying        State = "playing"
	StateDownloading    State = "downloading"
	StateFinished       State = "finished"
	StateFailed         State = "failed"
)

// next lists the forward edges. Failed is reachable from every
// non-terminal state and is not listed.
var next = map[State][]State{
	StateIdle:           {StateSearching},
	StateSearching:      {StateNotFound, StateFound},
	StateFound:          {StateFetchingStream},
	StateFetchingStream: {StateStreamReady, StateNoAudio},
	StateStreamReady:    {StatePlaying, StateDownloading},
	StatePlaying:        {StateFinished},
	StateDownloading:    {StateFinished},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateNotFound, StateNoAudio, StateFinished, StateFailed:
		return true
	}
	return false
}

// ErrInvalidTransition is wrapped by Pipeline.To for edges not in the graph.
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Err  error     `json:"-"`
}

// Observer is told about every transition, in order, on the goroutine that
// made it.
type Observer func(Transition)

// Pipeline tracks one run through the states above. It only moves forward;
// starting over means a new Pipeline.
type Pipeline struct {
	mu       sync.Mutex
	state    State
	history  []Transition
	observer Observer
	now      func() time.Time
}

func NewPipeline(observer Observer) *Pipeline {
	return &Pipeline{state: StateIdle, observer: observer, now: time.Now}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// History returns a copy of the transitions made so far.
func (p *Pipeline) History() []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transition(nil), p.history...)
}

// To moves to s if the graph allows it.
func (p *Pipeline) To(s State) error {
	return p.move(s, nil)
}

// Fail moves to Failed from any non-terminal state, recording err.
func (p *Pipeline) Fail(err error) error {
	return p.move(StateFailed, err)
}

func (p *Pipeline) move(to State, cause error) error {
	p.mu.Lock()
	from := p.state
	if !allowed(from, to) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t := Transition{From: from, To: to, At: p.now(), Err: cause}
	p.state = to
	p.history = append(p.history, t)
	observer := p.observer
	p.mu.Unlock()

	if observer != nil {
		observer(t)
	}
	return nil
}

func allowed(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
