package navigation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/shared/id"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Instance is the view of a running instance the stack needs
type Instance interface {
	ID() string
	PackageID() string
	EntryName() string
	State() types.State
	Persistent() bool
	Result() (types.Result, bool)
}

// Transitions drives instances through their lifecycle on behalf of the stack.
// Failures are handled by the implementation; a failed instance is later
// taken off the stack through Remove.
type Transitions interface {
	Foreground(inst Instance)
	Pause(inst Instance)
	Stop(inst Instance)
	Destroy(inst Instance)
	Deliver(caller string, slot uint32, res types.Result)
}

// ViewState is the per-entry state restored when an entry returns to the foreground
type ViewState struct {
	Scroll int    `json:"scroll"`
	Focus  string `json:"focus,omitempty"`
}

// Entry is one level of navigation history
type Entry struct {
	ID        id.EntryID
	Instance  Instance
	View      ViewState
	NoHistory bool // Destroyed as soon as another entry covers it
}

// Stack is the navigation history. The bottom entry is home: it cannot be
// popped, only replaced. The top entry is the foreground.
type Stack struct {
	entries  []*Entry
	detached []Instance // Persistent instances popped off the stack, oldest first
	results  *Results
	tr       Transitions
	logger   *zap.Logger
}

// New creates an empty stack driving instances through tr
func New(tr Transitions, logger *zap.Logger) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{
		results: NewResults(),
		tr:      tr,
		logger:  logger,
	}
}

// Push makes inst the foreground entry. When expectsResult is set, the
// previous foreground awaits inst's result in slot.
func (s *Stack) Push(inst Instance, expectsResult bool, slot uint32) (*Entry, error) {
	if _, ok := s.find(inst.ID()); ok {
		return nil, fmt.Errorf("instance %s is already on the stack", inst.ID())
	}

	prev := s.top()
	if expectsResult {
		if prev == nil {
			return nil, fmt.Errorf("result requested without a caller")
		}
		if err := s.results.Open(prev.Instance.ID(), slot, inst.ID()); err != nil {
			return nil, err
		}
	}

	s.reattach(inst.ID())
	if prev != nil {
		s.tr.Pause(prev.Instance)
	}

	entry := &Entry{ID: id.NewEntryID(), Instance: inst}
	s.entries = append(s.entries, entry)
	s.tr.Foreground(inst)

	if prev != nil {
		s.tr.Stop(prev.Instance)
		if prev.NoHistory && len(s.entries) > 2 {
			s.drop(prev)
		}
	}

	s.logger.Debug("pushed",
		zap.String("instance", inst.ID()),
		zap.String("package", inst.PackageID()),
		zap.Int("depth", len(s.entries)))
	return entry, nil
}

// Pop removes the foreground entry and returns to the one beneath it.
// The popped instance hands its result to a waiting caller, then is destroyed
// unless persistent, in which case it stays stopped off the stack.
func (s *Stack) Pop() (*Entry, error) {
	switch len(s.entries) {
	case 0:
		return nil, types.NotFoundf("navigation entry")
	case 1:
		return nil, types.ErrHomeEntry
	}

	top := s.entries[len(s.entries)-1]
	s.tr.Pause(top.Instance)
	s.entries = s.entries[:len(s.entries)-1]
	s.deliverFrom(top.Instance, resultOf(top.Instance))

	s.tr.Foreground(s.top().Instance)
	s.tr.Stop(top.Instance)

	if top.Instance.Persistent() {
		s.detached = append(s.detached, top.Instance)
	} else {
		s.results.DropCaller(top.Instance.ID())
		s.tr.Destroy(top.Instance)
	}

	s.logger.Debug("popped",
		zap.String("instance", top.Instance.ID()),
		zap.Bool("detached", top.Instance.Persistent()),
		zap.Int("depth", len(s.entries)))
	return top, nil
}

// DeliverResult hands res to the instance waiting on slot. It reports false
// when the slot is not pending, so a second delivery does nothing.
func (s *Stack) DeliverResult(caller string, slot uint32, res types.Result) bool {
	if _, ok := s.results.TakeSlot(caller, slot); !ok {
		return false
	}
	s.tr.Deliver(caller, slot, res)
	return true
}

// ResetToHome destroys every entry above home and brings home to the foreground
func (s *Stack) ResetToHome() error {
	if len(s.entries) == 0 {
		return types.NotFoundf("home entry")
	}
	if len(s.entries) == 1 {
		return nil
	}
	return s.ClearAbove(s.entries[0].Instance.ID())
}

// ClearAbove destroys the entries above the given instance and makes it the foreground
func (s *Stack) ClearAbove(instanceID string) error {
	idx, ok := s.find(instanceID)
	if !ok {
		return types.NotFoundf("instance %s on the stack", instanceID)
	}
	if idx == len(s.entries)-1 {
		return nil
	}

	s.tr.Pause(s.top().Instance)
	above := s.entries[idx+1:]
	s.entries = s.entries[:idx+1]

	for i := len(above) - 1; i >= 0; i-- {
		inst := above[i].Instance
		s.deliverFrom(inst, types.Canceled())
		s.results.DropCaller(inst.ID())
		s.tr.Destroy(inst)
	}

	s.tr.Foreground(s.entries[idx].Instance)
	s.logger.Debug("cleared",
		zap.String("instance", instanceID),
		zap.Int("destroyed", len(above)),
		zap.Int("depth", len(s.entries)))
	return nil
}

// ReplaceHome destroys the whole history, detached instances included,
// and starts over with inst as home
func (s *Stack) ReplaceHome(inst Instance) (*Entry, error) {
	if top := s.top(); top != nil {
		s.tr.Pause(top.Instance)
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		old := s.entries[i].Instance
		s.results.Take(old.ID())
		s.results.DropCaller(old.ID())
		s.tr.Destroy(old)
	}
	s.entries = nil

	for _, d := range s.detached {
		if d.ID() != inst.ID() {
			s.tr.Destroy(d)
		}
	}
	s.detached = nil

	return s.Push(inst, false, 0)
}

// InsertHome places inst beneath the history as the new home entry. On a
// non-empty stack no transition is driven; the caller brings inst to the
// state of a covered entry.
func (s *Stack) InsertHome(inst Instance) (*Entry, error) {
	if len(s.entries) == 0 {
		return s.Push(inst, false, 0)
	}
	if _, ok := s.find(inst.ID()); ok {
		return nil, fmt.Errorf("instance %s is already on the stack", inst.ID())
	}

	s.reattach(inst.ID())
	entry := &Entry{ID: id.NewEntryID(), Instance: inst}
	s.entries = append([]*Entry{entry}, s.entries...)

	s.logger.Debug("home inserted",
		zap.String("instance", inst.ID()),
		zap.String("package", inst.PackageID()),
		zap.Int("depth", len(s.entries)))
	return entry, nil
}

// Remove takes a failed instance off the stack without driving it further.
// Its caller receives a canceled result and the new top becomes the foreground.
func (s *Stack) Remove(instanceID string) bool {
	if s.reattach(instanceID) {
		s.results.DropCaller(instanceID)
		return true
	}

	idx, ok := s.find(instanceID)
	if !ok {
		return false
	}
	wasTop := idx == len(s.entries)-1
	inst := s.entries[idx].Instance
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)

	s.deliverFrom(inst, types.Canceled())
	s.results.DropCaller(instanceID)

	if wasTop && len(s.entries) > 0 {
		s.tr.Foreground(s.top().Instance)
	}
	s.logger.Debug("removed", zap.String("instance", instanceID), zap.Int("depth", len(s.entries)))
	return true
}

// Evict destroys a background instance to reclaim memory.
// Home and the foreground entry cannot be evicted.
func (s *Stack) Evict(instanceID string) error {
	for i, d := range s.detached {
		if d.ID() == instanceID {
			s.detached = append(s.detached[:i], s.detached[i+1:]...)
			s.results.DropCaller(instanceID)
			s.tr.Destroy(d)
			return nil
		}
	}

	idx, ok := s.find(instanceID)
	if !ok {
		return types.NotFoundf("instance %s on the stack", instanceID)
	}
	if idx == 0 || idx == len(s.entries)-1 {
		return fmt.Errorf("instance %s is home or foreground", instanceID)
	}

	inst := s.entries[idx].Instance
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.deliverFrom(inst, types.Canceled())
	s.results.DropCaller(instanceID)
	s.tr.Destroy(inst)
	return nil
}

// Background returns instances that could be evicted, oldest first:
// detached persistent instances, then covered entries above home
func (s *Stack) Background() []Instance {
	out := append([]Instance(nil), s.detached...)
	for i := 1; i < len(s.entries)-1; i++ {
		out = append(out, s.entries[i].Instance)
	}
	return out
}

// SaveView records the view state of an instance's entry
func (s *Stack) SaveView(instanceID string, vs ViewState) bool {
	idx, ok := s.find(instanceID)
	if !ok {
		return false
	}
	s.entries[idx].View = vs
	return true
}

// Find returns the entry holding an instance
func (s *Stack) Find(instanceID string) (*Entry, bool) {
	idx, ok := s.find(instanceID)
	if !ok {
		return nil, false
	}
	return s.entries[idx], true
}

// FindEntryPoint returns the topmost entry running pkg/entry
func (s *Stack) FindEntryPoint(pkg, entry string) (*Entry, bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		inst := s.entries[i].Instance
		if inst.PackageID() == pkg && inst.EntryName() == entry {
			return s.entries[i], true
		}
	}
	return nil, false
}

// Top returns the foreground entry
func (s *Stack) Top() (*Entry, bool) {
	top := s.top()
	return top, top != nil
}

// Home returns the bottom entry
func (s *Stack) Home() (*Entry, bool) {
	if len(s.entries) == 0 {
		return nil, false
	}
	return s.entries[0], true
}

// Len returns the number of entries
func (s *Stack) Len() int {
	return len(s.entries)
}

// Entries returns a snapshot of the entries, home first
func (s *Stack) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

// Detached returns the persistent instances living off the stack
func (s *Stack) Detached() []Instance {
	return append([]Instance(nil), s.detached...)
}

// PendingResults returns the number of result slots awaiting delivery
func (s *Stack) PendingResults() int {
	return s.results.Len()
}

// Results returns the result slot table
func (s *Stack) Results() *Results {
	return s.results
}

// Awaiting reports the caller and slot an instance owes a result to
func (s *Stack) Awaiting(instanceID string) (caller string, slot uint32, ok bool) {
	return s.results.Awaiting(instanceID)
}

func (s *Stack) top() *Entry {
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1]
}

func (s *Stack) find(instanceID string) (int, bool) {
	for i, e := range s.entries {
		if e.Instance.ID() == instanceID {
			return i, true
		}
	}
	return -1, false
}

// reattach removes an instance from the detached set
func (s *Stack) reattach(instanceID string) bool {
	for i, d := range s.detached {
		if d.ID() == instanceID {
			s.detached = append(s.detached[:i], s.detached[i+1:]...)
			return true
		}
	}
	return false
}

// deliverFrom hands res to whoever awaits inst, at most once
func (s *Stack) deliverFrom(inst Instance, res types.Result) {
	caller, slot, ok := s.results.Take(inst.ID())
	if !ok {
		return
	}
	if _, live := s.find(caller); !live {
		return
	}
	s.tr.Deliver(caller, slot, res)
}

// drop destroys a covered no-history entry
func (s *Stack) drop(e *Entry) {
	idx, ok := s.find(e.Instance.ID())
	if !ok {
		return
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.deliverFrom(e.Instance, resultOf(e.Instance))
	s.results.DropCaller(e.Instance.ID())
	s.tr.Destroy(e.Instance)
}
