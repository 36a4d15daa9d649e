package navigation

import (
	"fmt"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

type slotKey struct {
	caller string
	slot   uint32
}

// Results tracks the result slots awaiting delivery. Each slot is consumed
// by its first delivery; later deliveries find nothing.
type Results struct {
	pending map[slotKey]string // slot -> callee instance
	callee  map[string]slotKey // callee instance -> slot
}

// NewResults creates an empty slot table
func NewResults() *Results {
	return &Results{
		pending: make(map[slotKey]string),
		callee:  make(map[string]slotKey),
	}
}

// Open registers that callee owes caller a result in slot
func (r *Results) Open(caller string, slot uint32, callee string) error {
	key := slotKey{caller, slot}
	if _, busy := r.pending[key]; busy {
		return fmt.Errorf("result slot %d of %s is already pending", slot, caller)
	}
	r.pending[key] = callee
	r.callee[callee] = key
	return nil
}

// Awaiting returns the caller and slot callee owes a result to
func (r *Results) Awaiting(callee string) (caller string, slot uint32, ok bool) {
	key, ok := r.callee[callee]
	return key.caller, key.slot, ok
}

// Take consumes the slot callee owes. ok is false when nothing is owed,
// including when the slot was already delivered.
func (r *Results) Take(callee string) (caller string, slot uint32, ok bool) {
	key, ok := r.callee[callee]
	if !ok {
		return "", 0, false
	}
	delete(r.callee, callee)
	delete(r.pending, key)
	return key.caller, key.slot, true
}

// TakeSlot consumes a slot by its caller-side key
func (r *Results) TakeSlot(caller string, slot uint32) (callee string, ok bool) {
	key := slotKey{caller, slot}
	callee, ok = r.pending[key]
	if !ok {
		return "", false
	}
	delete(r.pending, key)
	delete(r.callee, callee)
	return callee, true
}

// DropCaller forgets every slot a destroyed caller was waiting on
func (r *Results) DropCaller(caller string) {
	for key, callee := range r.pending {
		if key.caller == caller {
			delete(r.pending, key)
			delete(r.callee, callee)
		}
	}
}

// Len returns the number of pending slots
func (r *Results) Len() int {
	return len(r.pending)
}

// resultOf returns what an instance leaving the stack hands back to its caller
func resultOf(inst Instance) types.Result {
	if res, ok := inst.Result(); ok {
		return res
	}
	return types.Canceled()
}
