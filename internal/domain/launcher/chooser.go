package launcher

import (
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/lifecycle"
	"github.com/GriffinCanCode/appruntime/internal/domain/navigation"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// ChooserClass is the activity class name of the app chooser
const ChooserClass = "launcher.Chooser"

// forwardSlot is the slot the chooser waits on when the caller wants a result
const forwardSlot = 1

// Chooser lets the user pick the handler of an ambiguous in-app launch.
// The selection is launched with the original request; when the caller
// waits for a result, the selection's result is forwarded to it.
type Chooser struct {
	lifecycle.Base
	logger     *zap.Logger
	candidates []types.Match
	request    types.LaunchRequest
	selected   int
	chosen     bool
}

// NewChooser returns a factory for chooser activities
func NewChooser(logger *zap.Logger) lifecycle.Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func() lifecycle.Activity {
		return &Chooser{logger: logger}
	}
}

// OnCreate reads the candidates and the original request from the intent
func (c *Chooser) OnCreate(inst *lifecycle.Instance) error {
	intent := inst.Intent()
	v, _ := intent.Extra(lifecycle.ExtraCandidates)
	candidates, ok := v.([]types.Match)
	if !ok || len(candidates) == 0 {
		return errors.New("chooser started without candidates")
	}
	v, _ = intent.Extra(lifecycle.ExtraRequest)
	req, ok := v.(types.LaunchRequest)
	if !ok {
		return errors.New("chooser started without the original request")
	}

	c.candidates = candidates
	c.request = req
	return nil
}

// OnInput moves the cursor with up/down and picks on enter. An event
// carrying data.package (and optionally data.entry) picks that candidate.
func (c *Chooser) OnInput(inst *lifecycle.Instance, ev lifecycle.InputEvent) error {
	if c.chosen {
		return nil
	}
	if pkg, ok := ev.Data["package"].(string); ok && pkg != "" {
		entry, _ := ev.Data["entry"].(string)
		for i, m := range c.candidates {
			if m.PackageID == pkg && (entry == "" || m.Entry.Name == entry) {
				c.selected = i
				return c.pick(inst)
			}
		}
		return nil
	}
	if ev.Kind != "key" {
		return nil
	}

	switch ev.Key {
	case "up", "left":
		c.selected = (c.selected - 1 + len(c.candidates)) % len(c.candidates)
	case "down", "right":
		c.selected = (c.selected + 1) % len(c.candidates)
	case "enter":
		return c.pick(inst)
	}
	return nil
}

// OnResult forwards the selection's result to the original caller
func (c *Chooser) OnResult(inst *lifecycle.Instance, slot uint32, res types.Result) error {
	if slot != forwardSlot {
		return nil
	}
	inst.SetResult(res.Code, res.Data)
	inst.Finish()
	return nil
}

// SaveView keeps the cursor position
func (c *Chooser) SaveView(*lifecycle.Instance) navigation.ViewState {
	return navigation.ViewState{Scroll: c.selected}
}

// RestoreView puts the cursor back
func (c *Chooser) RestoreView(_ *lifecycle.Instance, vs navigation.ViewState) {
	if vs.Scroll >= 0 && vs.Scroll < len(c.candidates) {
		c.selected = vs.Scroll
	}
}

// Candidates returns the offered handlers in resolver order
func (c *Chooser) Candidates() []types.Match {
	return append([]types.Match(nil), c.candidates...)
}

// Selected returns the candidate under the cursor
func (c *Chooser) Selected() (types.Match, bool) {
	if len(c.candidates) == 0 {
		return types.Match{}, false
	}
	return c.candidates[c.selected], true
}

// pick launches the selected candidate with the original request. Without a
// waiting caller the chooser closes right away.
func (c *Chooser) pick(inst *lifecycle.Instance) error {
	m := c.candidates[c.selected]
	req := c.request
	req.Package = m.PackageID
	req.Entry = m.Entry.Name

	var err error
	if c.request.ExpectResult {
		err = inst.StartForResult(req, forwardSlot)
	} else {
		err = inst.StartActivity(req)
	}
	if err != nil {
		c.logger.Warn("launch from chooser failed",
			zap.String("package", m.PackageID),
			zap.String("entry", m.Entry.Name),
			zap.Error(err))
		return nil
	}

	c.chosen = true
	c.logger.Debug("handler chosen", zap.String("package", m.PackageID), zap.String("entry", m.Entry.Name))
	if !c.request.ExpectResult {
		inst.Finish()
	}
	return nil
}
