package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRegistry_RunInOrder(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRegistry(zap.New(core))

	var order []int
	r.Register(func(context.Context) error { order = append(order, 1); return errors.New("first failed") })
	r.Register(func(context.Context) error { order = append(order, 2); return nil })

	err := r.Run(context.Background())
	assert.EqualError(t, err, "first failed")
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 1, logs.FilterMessage("storage quota exceeded, running callbacks").Len())
}

func TestRegistry_Empty(t *testing.T) {
	assert.NoError(t, NewRegistry(nil).Run(context.Background()))
}
