package worker_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Nxdus/clustra-project/internal/worker"
)

func TestCancelRegistry(t *testing.T) {
	registry := worker.NewCancelRegistry()
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.TODO())
	registry.Register(id, cancel)

	assert.True(t, registry.Cancel(id))
	assert.Error(t, ctx.Err())

	registry.Remove(id)
	assert.False(t, registry.Cancel(id))
}

func TestCancelRegistryUnknownID(t *testing.T) {
	registry := worker.NewCancelRegistry()
	assert.False(t, registry.Cancel(uuid.New()))
}

func TestCancelRegistryRemembersTrip(t *testing.T) {
	registry := worker.NewCancelRegistry()
	id := uuid.New()

	_, cancel := context.WithCancel(context.TODO())
	registry.Register(id, cancel)
	assert.False(t, registry.Tripped(id))

	registry.Cancel(id)
	assert.True(t, registry.Tripped(id))

	registry.Remove(id)
	assert.False(t, registry.Tripped(id))
}

func TestCancelRegistryParentCancelIsNotATrip(t *testing.T) {
	registry := worker.NewCancelRegistry()
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.TODO())
	registry.Register(id, cancel)

	cancel()
	assert.Error(t, ctx.Err())
	assert.False(t, registry.Tripped(id))
}
