package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

func TestMatchEntry(t *testing.T) {
	entry := types.EntryPoint{
		Name: "View",
		Filters: []types.IntentFilter{
			{Action: "VIEW", Category: "gallery", DataTypes: []string{"image/*"}},
			{Action: "SEND"},
		},
	}

	tests := []struct {
		name     string
		filter   types.Filter
		matched  bool
		explicit bool
	}{
		{"action only", types.Filter{Action: "VIEW"}, true, false},
		{"declared category", types.Filter{Action: "VIEW", Category: "gallery"}, true, true},
		{"other category", types.Filter{Action: "VIEW", Category: "camera"}, false, false},
		{"wildcard filter accepts category", types.Filter{Action: "SEND", Category: "camera"}, true, false},
		{"data type pattern", types.Filter{Action: "VIEW", DataType: "image/jpeg"}, true, false},
		{"data type mismatch", types.Filter{Action: "VIEW", DataType: "text/plain"}, false, false},
		{"unknown action", types.Filter{Action: "EDIT"}, false, false},
		{"package only", types.Filter{Package: "com.example.a"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, explicit := matchEntry(entry, tt.filter)
			assert.Equal(t, tt.matched, matched)
			assert.Equal(t, tt.explicit, explicit)
		})
	}
}

func TestDetectDataType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo")
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	require.NoError(t, os.WriteFile(path, png, 0o644))

	mt, err := DetectDataType(path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mt)

	txt := filepath.Join(t.TempDir(), "note")
	require.NoError(t, os.WriteFile(txt, []byte("hello world\n"), 0o644))
	mt, err = DetectDataType(txt)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mt)
}
