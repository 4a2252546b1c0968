package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAdapter struct {
	calls []string
	err   error
}

func (a *recordingAdapter) Register(r *Registry) {
	for _, act := range []models.Action{models.ActionStart, models.ActionStop} {
		act := act
		r.Register(models.ProviderAWS, models.ResourceEC2, act, func(ctx context.Context, id string) error {
			a.calls = append(a.calls, string(act)+":"+id)
			return a.err
		})
	}
}

func TestRegistry_Execute(t *testing.T) {
	a := &recordingAdapter{}
	r := NewRegistry(100, 10).Use(a)

	err := r.Execute(context.Background(), Target{models.ProviderAWS, models.ResourceEC2, "i-1"}, models.ActionStop)
	require.NoError(t, err)
	assert.Equal(t, []string{"stop:i-1"}, a.calls)
}

func TestRegistry_Execute_Unsupported(t *testing.T) {
	r := NewRegistry(100, 10).Use(&recordingAdapter{})

	err := r.Execute(context.Background(), Target{models.ProviderAzure, models.ResourceVM, "vm"}, models.ActionStart)
	assert.ErrorIs(t, err, ErrUnsupportedTarget)
}

func TestRegistry_Execute_AlreadyInStateIsSuccess(t *testing.T) {
	a := &recordingAdapter{err: ErrAlreadyInTargetState}
	r := NewRegistry(100, 10).Use(a)

	err := r.Execute(context.Background(), Target{models.ProviderAWS, models.ResourceEC2, "i-1"}, models.ActionStart)
	assert.NoError(t, err)
}

func TestRegistry_Execute_PropagatesProviderError(t *testing.T) {
	denied := errors.New("AccessDenied: not authorized")
	r := NewRegistry(100, 10).Use(&recordingAdapter{err: denied})

	err := r.Execute(context.Background(), Target{models.ProviderAWS, models.ResourceEC2, "i-1"}, models.ActionStart)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, denied.Error(), err.Error())
}

func TestRegistry_Execute_RateLimitHonoursContext(t *testing.T) {
	r := NewRegistry(0.001, 1).Use(&recordingAdapter{})
	target := Target{models.ProviderAWS, models.ResourceEC2, "i-1"}

	require.NoError(t, r.Execute(context.Background(), target, models.ActionStart))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Execute(ctx, target, models.ActionStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestRegistry_SupportsAndKinds(t *testing.T) {
	r := NewRegistry(1, 1).Use(&recordingAdapter{})
	r.Register(models.ProviderAzure, models.ResourceVM, models.ActionStart, func(context.Context, string) error { return nil })

	assert.True(t, r.Supports(models.ProviderAWS, models.ResourceEC2))
	assert.False(t, r.Supports(models.ProviderAzure, models.ResourceVM), "stop missing")
	assert.False(t, r.Supports(models.ProviderAWS, models.ResourceRDS))
	assert.Equal(t, []string{"aws/ec2", "azure/vm"}, r.Kinds())
}
