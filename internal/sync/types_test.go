package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/remote"
)

func TestSyncState_Text(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state SyncState
		want  string
	}{
		{StateLocal, "local"},
		{StatePending, "pending"},
		{StateSynced, "synced"},
		{StateFailed, "failed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())

		text, err := tt.state.MarshalText()
		require.NoError(t, err)

		var got SyncState
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, tt.state, got)
	}

	var s SyncState
	require.Error(t, s.UnmarshalText([]byte("queued")))
}

func TestDocument_IsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, Document{Date: may1}.IsEmpty())
	assert.False(t, Document{Content: "x"}.IsEmpty())
	assert.False(t, Document{Media: remote.Media{Image: "a.jpg"}}.IsEmpty())
}

func TestDrainReport_Total(t *testing.T) {
	t.Parallel()

	r := DrainReport{Written: 2, Discarded: 1, Failed: 3, Errors: []error{errors.New("x")}}
	assert.Equal(t, 6, r.Total())
}
