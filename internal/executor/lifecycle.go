package executor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is a lifecycle phase transition.
type Status string

const (
	StatusInstallStarted    Status = "package-installation-started"
	StatusInstallFinished   Status = "package-installation-finished"
	StatusExecutionStarted  Status = "code-execution-started"
	StatusExecutionFinished Status = "code-execution-finished"
)

// LifecycleEvent is delivered to an Observer. It is purely informational.
type LifecycleEvent struct {
	Status Status    `json:"status"`
	Time   time.Time `json:"time"`
}

// Observer receives lifecycle events on a goroutine owned by the execution.
type Observer func(LifecycleEvent)

// Notify is how a Strategy reports a phase transition.
type Notify func(Status)

var finishes = map[Status]Status{
	StatusInstallStarted:   StatusInstallFinished,
	StatusExecutionStarted: StatusExecutionFinished,
}

// tracker balances phases: every started phase gets exactly one finished
// event, in reverse start order, even if the strategy bails out.
type tracker struct {
	mu      sync.Mutex
	open    []Status
	emitted map[Status]bool
	out     *notifier
}

func newTracker(out *notifier) *tracker {
	return &tracker{emitted: make(map[Status]bool), out: out}
}

func (t *tracker) report(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.emitted[s] {
		return
	}
	if _, isStart := finishes[s]; isStart {
		t.open = append(t.open, s)
	} else {
		idx := -1
		for i, started := range t.open {
			if finishes[started] == s {
				idx = i
			}
		}
		if idx < 0 {
			return
		}
		t.open = append(t.open[:idx], t.open[idx+1:]...)
	}
	t.emitted[s] = true
	t.out.send(s)
}

func (t *tracker) closeAll() {
	t.mu.Lock()
	open := append([]Status(nil), t.open...)
	t.mu.Unlock()

	for i := len(open) - 1; i >= 0; i-- {
		t.report(finishes[open[i]])
	}
}

// notifier hands events to the observer on its own goroutine so a slow or
// panicking observer never delays the execution.
type notifier struct {
	mu     sync.Mutex
	closed bool
	events chan LifecycleEvent
	done   chan struct{}
}

func newNotifier(observer Observer, logger *slog.Logger) *notifier {
	n := &notifier{
		events: make(chan LifecycleEvent, 8),
		done:   make(chan struct{}),
	}
	if observer == nil {
		close(n.done)
		n.events = nil
		return n
	}

	go func() {
		defer close(n.done)
		for ev := range n.events {
			deliver(observer, ev, logger)
		}
	}()
	return n
}

func deliver(observer Observer, ev LifecycleEvent, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("lifecycle observer panicked",
				slog.String("status", string(ev.Status)),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	observer(ev)
}

func (n *notifier) send(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || n.events == nil {
		return
	}
	select {
	case n.events <- LifecycleEvent{Status: s, Time: time.Now()}:
	default:
	}
}

// close stops accepting events. Delivery of queued events continues in the
// background.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	if n.events != nil {
		close(n.events)
	}
}
