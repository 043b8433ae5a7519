package progress_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Nxdus/clustra-project/internal/progress"
)

func TestTrackerUpdateAndGet(t *testing.T) {
	tracker := progress.NewTracker()

	tracker.Update("job-1", 42.5, progress.PhaseProcessing)

	entry, ok := tracker.Get("job-1")
	assert.True(t, ok)
	assert.Equal(t, 42.5, entry.Percent)
	assert.Equal(t, progress.PhaseProcessing, entry.Phase)
	assert.Empty(t, entry.Error)
}

func TestTrackerGetUnknownID(t *testing.T) {
	tracker := progress.NewTracker()

	_, ok := tracker.Get("missing")
	assert.False(t, ok)
}

func TestTrackerSetError(t *testing.T) {
	tracker := progress.NewTracker()

	tracker.Update("job-1", 80, progress.PhaseUploading)
	tracker.SetError("job-1", "encoder exited with an error")

	entry, ok := tracker.Get("job-1")
	assert.True(t, ok)
	assert.Equal(t, progress.PhaseError, entry.Phase)
	assert.Equal(t, "encoder exited with an error", entry.Error)
	assert.Zero(t, entry.Percent)
}

func TestTrackerClear(t *testing.T) {
	tracker := progress.NewTracker()

	tracker.Update("job-1", 100, progress.PhaseCompleted)
	tracker.Clear("job-1")

	_, ok := tracker.Get("job-1")
	assert.False(t, ok)
}
