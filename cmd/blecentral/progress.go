package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line up to date while a command waits on
// the radio: "<prefix> (<phase> <seconds>s)". With a deadline it counts down,
// otherwise it counts up.
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	out      io.Writer
	enabled  bool
	prefix   string
	deadline time.Duration

	phase    atomic.Value // string
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a count-up printer on stderr. It prints nothing
// unless stderr is a terminal.
func NewProgressPrinter(prefix, phase string) *ProgressPrinter {
	return newProgressPrinter(os.Stderr, isTerminal(os.Stderr), prefix, phase, 0)
}

// NewCountdownProgressPrinter creates a printer counting down from deadline.
func NewCountdownProgressPrinter(prefix, phase string, deadline time.Duration) *ProgressPrinter {
	return newProgressPrinter(os.Stderr, isTerminal(os.Stderr), prefix, phase, deadline)
}

func newProgressPrinter(out io.Writer, enabled bool, prefix, phase string, deadline time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		out:      out,
		enabled:  enabled,
		prefix:   prefix,
		deadline: deadline,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Start begins updating the status line in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !p.enabled {
		close(p.done)
		return
	}

	startTime := time.Now()
	p.print(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.print(p.phase.Load().(string), p.seconds(time.Since(startTime)))
			}
		}
	}()
}

// seconds returns the number to show: elapsed, or remaining rounded to the nearest second.
func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.deadline <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.deadline - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// SetPhase changes the phase shown on the next update. Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Stop ends the updates and clears the status line.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if !p.started.Load() {
			return
		}
		<-p.done
		if p.enabled {
			fmt.Fprint(p.out, clearLineSequence)
		}
	})
}
