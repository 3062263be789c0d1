package power

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	profile string
	propErr error
	callErr error
	calls   []string
	args    [][]interface{}
}

func (f *fakeObject) GetProperty(p string) (dbus.Variant, error) {
	if f.propErr != nil {
		return dbus.Variant{}, f.propErr
	}
	return dbus.MakeVariant(f.profile), nil
}

func (f *fakeObject) Call(method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, method)
	f.args = append(f.args, args)
	if f.callErr != nil {
		return &dbus.Call{Err: f.callErr}
	}
	return &dbus.Call{Body: []interface{}{uint32(42)}}
}

func TestProfileHoldExempt(t *testing.T) {
	obj := &fakeObject{profile: "balanced"}
	p := newProfileHold(obj, "genkeep", nil)
	ok, err := p.Exempt(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	obj.profile = ProfilePerformance
	ok, err = p.Exempt(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	obj.propErr = errors.New("no such service")
	_, err = p.Exempt(context.Background())
	assert.Error(t, err)
}

func TestProfileHoldRequestOnce(t *testing.T) {
	obj := &fakeObject{profile: "balanced"}
	p := newProfileHold(obj, "genkeep", nil)
	require.NoError(t, p.Request(context.Background(), "keep generating"))
	require.NoError(t, p.Request(context.Background(), "keep generating"))
	require.Len(t, obj.calls, 1)
	assert.Equal(t, "net.hadess.PowerProfiles.HoldProfile", obj.calls[0])
	assert.Equal(t, []interface{}{ProfilePerformance, "keep generating", "genkeep"}, obj.args[0])
	assert.Equal(t, uint32(42), p.cookie)

	require.NoError(t, p.Close())
	require.Len(t, obj.calls, 2)
	assert.Equal(t, "net.hadess.PowerProfiles.ReleaseProfile", obj.calls[1])
	assert.Equal(t, []interface{}{uint32(42)}, obj.args[1])
}

func TestProfileHoldRequestError(t *testing.T) {
	obj := &fakeObject{callErr: errors.New("denied")}
	p := newProfileHold(obj, "genkeep", nil)
	assert.Error(t, p.Request(context.Background(), "r"))
	assert.False(t, p.held)
	assert.NoError(t, p.Close())
}

func TestNoop(t *testing.T) {
	ok, err := Noop{}.Exempt(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.NoError(t, Noop{}.Request(context.Background(), "x"))
}
