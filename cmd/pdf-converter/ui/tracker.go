package ui

import (
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
)

// Tracker is one line of a MultiProgress.
type Tracker struct {
	bar    *mpb.Bar
	status atomic.Value
}

// Status replaces the line's status text.
func (t *Tracker) Status(text string) {
	t.status.Store(text)
}

// Done completes the line with a final status.
func (t *Tracker) Done(text string) {
	t.status.Store(text)
	t.bar.SetTotal(-1, true)
}

// Abort completes the line after a failure.
func (t *Tracker) Abort(text string) {
	t.status.Store(text)
	t.bar.Abort(false)
}
