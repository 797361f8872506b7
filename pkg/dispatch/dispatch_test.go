package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("echo", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return payload, nil
	}))

	out, err := r.Dispatch(context.Background(), "echo", 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
}

func TestRegistryUnknownTarget(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "ghost", 0, nil)
	assert.Error(t, err)
}

func TestRegistryRegisterValidation(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return nil, nil
	}))
	assert.Error(t, r.Register("x", nil))
}

func TestRegistryReplaceHandler(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register("svc", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return nil, boom
	}))
	_, err := r.Dispatch(context.Background(), "svc", 0, nil)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, r.Register("svc", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return []byte("fixed"), nil
	}))
	out, err := r.Dispatch(context.Background(), "svc", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("fixed"), out)
}
