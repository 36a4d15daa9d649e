package notify

import (
	"testing"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDelivers(t *testing.T) {
	h := NewHub(2, nil)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Notify(types.Notification{Kind: types.NotifyCrash, Package: "com.example.a"})

	n := <-ch
	assert.Equal(t, types.NotifyCrash, n.Kind)
	assert.False(t, n.Timestamp.IsZero())
}

func TestHubRetainsRecent(t *testing.T) {
	h := NewHub(2, nil)
	for _, msg := range []string{"a", "b", "c"} {
		h.Notify(types.Notification{Kind: types.NotifyInstalled, Message: msg})
	}

	recent := h.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Message)
	assert.Equal(t, "c", recent[1].Message)
}

func TestHubDropsOnFullQueue(t *testing.T) {
	h := NewHub(0, nil)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < DefaultBuffer+3; i++ {
		h.Notify(types.Notification{Kind: types.NotifyDefect})
	}
	assert.Equal(t, uint64(3), h.Dropped())
}

func TestHubCancel(t *testing.T) {
	h := NewHub(0, nil)
	ch, cancel := h.Subscribe()
	require.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}
