package sync

import (
	"time"

	"github.com/tonimelisma/journal-sync/internal/remote"
)

// debounceState is the per-date save state.
type debounceState int

const (
	stateIdle debounceState = iota
	stateDebouncing
	stateFlushing
)

func (s debounceState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDebouncing:
		return "debouncing"
	case stateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// saveEvent drives the debouncer.
type saveEvent int

const (
	eventEdit saveEvent = iota
	eventTimerFired
	eventBlur
	eventKeyChanged
	eventTeardown
	eventFlushed // internal: the in-flight flush finished
)

func (e saveEvent) String() string {
	switch e {
	case eventEdit:
		return "edit"
	case eventTimerFired:
		return "timerFired"
	case eventBlur:
		return "blur"
	case eventKeyChanged:
		return "keyChanged"
	case eventTeardown:
		return "teardown"
	case eventFlushed:
		return "flushed"
	default:
		return "unknown"
	}
}

// snapshot is the content of one edit, captured when the save was
// scheduled. A flush always sends a snapshot, never live state.
type snapshot struct {
	ticket
	content  string
	media    remote.Media
	modified time.Time
}

// step tells the caller what to do after a transition.
type step struct {
	flush  *snapshot // start flushing this snapshot
	arm    bool      // (re)start the debounce timer
	disarm bool      // stop the debounce timer
}

// debouncer is the save state machine for one date:
//
//	Idle       --edit-->                  Debouncing (arm)
//	Debouncing --edit-->                  Debouncing (re-arm, keep newest)
//	Debouncing --timer|blur|key|teardown--> Flushing (send newest)
//	Flushing   --edit-->                  Flushing (hold newest)
//	Flushing   --blur|key|teardown-->     Flushing (send held right after)
//	Flushing   --flushed-->               Idle | Debouncing | Flushing
//
// At most one flush per date is in flight. It holds no lock of its own; the
// Coordinator serializes calls.
type debouncer struct {
	state    debounceState
	latest   *snapshot // newest edit not yet handed to a flush
	urgent   bool      // flush latest as soon as the in-flight flush ends
	timerGen uint64    // identifies the armed timer; stale firings are ignored
	stop     func() bool
	waiters  []chan struct{}
}

// on applies ev and returns the resulting side effects.
func (d *debouncer) on(ev saveEvent, edit *snapshot) step {
	switch d.state {
	case stateIdle:
		if ev == eventEdit {
			d.latest = edit
			d.state = stateDebouncing

			return step{arm: true}
		}

		return step{}

	case stateDebouncing:
		switch ev {
		case eventEdit:
			d.latest = edit
			return step{arm: true}
		case eventTimerFired, eventBlur, eventKeyChanged, eventTeardown:
			s := d.latest
			d.latest = nil
			d.state = stateFlushing

			return step{flush: s, disarm: true}
		default:
			return step{}
		}

	case stateFlushing:
		switch ev {
		case eventEdit:
			d.latest = edit
		case eventBlur, eventKeyChanged, eventTeardown:
			if d.latest != nil {
				d.urgent = true
			}
		case eventFlushed:
			if d.latest == nil {
				d.state = stateIdle
				d.urgent = false

				return step{}
			}

			if d.urgent {
				s := d.latest
				d.latest = nil
				d.urgent = false

				return step{flush: s}
			}

			d.state = stateDebouncing

			return step{arm: true}
		}

		return step{}
	}

	return step{}
}

// dirty reports whether an edit has not yet been handed to, or completed
// by, a flush.
func (d *debouncer) dirty() bool {
	return d.state != stateIdle
}

// wait returns a channel closed the next time the debouncer is idle.
func (d *debouncer) wait() <-chan struct{} {
	ch := make(chan struct{})

	if d.state == stateIdle {
		close(ch)
		return ch
	}

	d.waiters = append(d.waiters, ch)

	return ch
}

// release wakes waiters once the debouncer is idle.
func (d *debouncer) release() {
	if d.state != stateIdle {
		return
	}

	for _, ch := range d.waiters {
		close(ch)
	}

	d.waiters = nil
}
