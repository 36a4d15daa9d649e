package lifecycle

import (
	"sort"
	"time"

	"github.com/GriffinCanCode/appruntime/internal/shared/id"
)

// Resource kinds reported by Counts and leak diagnostics
const (
	ResourceRoot   = "root"
	ResourceFrames = "frames"
	ResourceTimers = "timers"
	ResourceTasks  = "tasks"
)

type frameCallback struct {
	seq int
	fn  func(now time.Time)
}

type timer struct {
	id       id.TimerID
	interval time.Duration
	next     time.Time
	fn       func()
}

// resources is everything an instance owns that must be released on destroy
type resources struct {
	root     string
	hasRoot  bool
	frames   map[int]frameCallback
	frameSeq int
	framesOn bool
	timers   map[id.TimerID]*timer
	tasks    map[id.TaskID]struct{}
}

func newResources() *resources {
	return &resources{
		frames: make(map[int]frameCallback),
		timers: make(map[id.TimerID]*timer),
		tasks:  make(map[id.TaskID]struct{}),
	}
}

func (r *resources) addFrame(fn func(now time.Time)) int {
	r.frameSeq++
	r.frames[r.frameSeq] = frameCallback{seq: r.frameSeq, fn: fn}
	return r.frameSeq
}

// frameList returns the frame callbacks in registration order
func (r *resources) frameList() []frameCallback {
	out := make([]frameCallback, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// dueTimers returns the timers due at now and schedules their next run
func (r *resources) dueTimers(now time.Time) []*timer {
	var due []*timer
	for _, t := range r.timers {
		if !now.Before(t.next) {
			due = append(due, t)
			t.next = now.Add(t.interval)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].id < due[j].id })
	return due
}

// Counts returns the number of live resources per kind
func (r *resources) Counts() map[string]int {
	counts := map[string]int{
		ResourceFrames: len(r.frames),
		ResourceTimers: len(r.timers),
		ResourceTasks:  len(r.tasks),
	}
	if r.hasRoot {
		counts[ResourceRoot] = 1
	} else {
		counts[ResourceRoot] = 0
	}
	return counts
}

// Empty reports whether nothing is left to release
func (r *resources) Empty() bool {
	return !r.hasRoot && len(r.frames) == 0 && len(r.timers) == 0 && len(r.tasks) == 0
}
