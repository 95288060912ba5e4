package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticBridge(t *testing.T) {
	reg := NewStaticBridge("lajp", "10.0.0.5", 21230)

	instances, err := reg.Discover("lajp")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "10.0.0.5:21230", instances[0].Addr)

	_, err = reg.Discover("other")
	assert.True(t, errors.Is(err, ErrNoInstances))
}

func TestStaticRegistryRegisterDeregister(t *testing.T) {
	reg := NewStaticRegistry()
	require.NoError(t, reg.Register("lajp", ServiceInstance{Addr: ":1"}, 10))
	require.NoError(t, reg.Register("lajp", ServiceInstance{Addr: ":2"}, 10))
	require.NoError(t, reg.Register("lajp", ServiceInstance{Addr: ":1"}, 10))

	instances, err := reg.Discover("lajp")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister("lajp", ":1"))
	instances, err = reg.Discover("lajp")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, ":2", instances[0].Addr)

	list := <-reg.Watch("lajp")
	assert.Len(t, list, 1)
}
