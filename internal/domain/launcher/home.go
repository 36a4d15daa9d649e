package launcher

import (
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/lifecycle"
	"github.com/GriffinCanCode/appruntime/internal/domain/navigation"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Class is the activity class name of the built-in home screen
const Class = "launcher.Home"

// Source lists the packages the home screen offers
type Source interface {
	List() []types.Package
}

// Tile is one launchable application on the home screen
type Tile struct {
	Package string `json:"package"`
	Name    string `json:"name"`
	Entry   string `json:"entry"`
	Icon    string `json:"icon,omitempty"`
}

// Home is the home screen: a grid of main entries with a cursor.
// Input moves the cursor or launches the selected tile.
type Home struct {
	lifecycle.Base
	source   Source
	logger   *zap.Logger
	tiles    []Tile
	selected int
}

// New returns a factory for home screen activities listing source
func New(source Source, logger *zap.Logger) lifecycle.Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func() lifecycle.Activity {
		return &Home{source: source, logger: logger}
	}
}

// OnResume reloads the tiles, since packages may have changed while covered
func (h *Home) OnResume(inst *lifecycle.Instance) error {
	h.refresh(inst.PackageID())
	return nil
}

// OnInput moves the cursor with up/down/left/right and launches on enter.
// An event carrying data.package launches that package directly.
func (h *Home) OnInput(inst *lifecycle.Instance, ev lifecycle.InputEvent) error {
	if pkg, ok := ev.Data["package"].(string); ok && pkg != "" {
		return h.launch(inst, types.Explicit(pkg, ""))
	}
	if ev.Kind != "key" || len(h.tiles) == 0 {
		return nil
	}

	switch ev.Key {
	case "up", "left":
		h.selected = (h.selected - 1 + len(h.tiles)) % len(h.tiles)
	case "down", "right":
		h.selected = (h.selected + 1) % len(h.tiles)
	case "enter":
		t := h.tiles[h.selected]
		return h.launch(inst, types.Explicit(t.Package, t.Entry))
	}
	return nil
}

// SaveView keeps the cursor position across launches
func (h *Home) SaveView(*lifecycle.Instance) navigation.ViewState {
	return navigation.ViewState{Scroll: h.selected}
}

// RestoreView puts the cursor back; the next refresh clamps it
func (h *Home) RestoreView(_ *lifecycle.Instance, vs navigation.ViewState) {
	h.selected = vs.Scroll
}

// Tiles returns the current tiles in display order
func (h *Home) Tiles() []Tile {
	return append([]Tile(nil), h.tiles...)
}

// Selected returns the tile under the cursor
func (h *Home) Selected() (Tile, bool) {
	if len(h.tiles) == 0 {
		return Tile{}, false
	}
	return h.tiles[h.selected], true
}

func (h *Home) launch(inst *lifecycle.Instance, req types.LaunchRequest) error {
	// A failed launch is shown to the user, not a reason to kill home
	if err := inst.StartActivity(req); err != nil {
		h.logger.Warn("launch from home failed",
			zap.String("package", req.Package),
			zap.Error(err))
	}
	return nil
}

func (h *Home) refresh(self string) {
	var tiles []Tile
	for _, p := range h.source.List() {
		if p.ID == self || p.Category == types.CategoryLauncher {
			continue
		}
		entry, ok := p.MainEntry()
		if !ok || !entry.IsLauncherMain() {
			continue
		}
		tiles = append(tiles, Tile{Package: p.ID, Name: p.Name, Entry: entry.Name, Icon: p.IconPath})
	}
	sort.SliceStable(tiles, func(a, b int) bool { return tiles[a].Name < tiles[b].Name })
	h.tiles = tiles
	h.clamp()
}

func (h *Home) clamp() {
	if h.selected >= len(h.tiles) {
		h.selected = len(h.tiles) - 1
	}
	if h.selected < 0 {
		h.selected = 0
	}
}
