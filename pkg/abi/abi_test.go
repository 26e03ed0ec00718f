package abi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorRendersBufferTooSmallPayload(t *testing.T) {
	err := BufferTooSmall(128)
	require.Equal(t, "BUFFER_TOO_SMALL(needed=128)", err.Error())

	plain := New(ErrNoSuchTable)
	require.Equal(t, "NO_SUCH_TABLE", plain.Error())
}

func TestAsErrorRoundTrip(t *testing.T) {
	var err error = New(ErrUniqueAlreadyExists)
	abiErr, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, ErrUniqueAlreadyExists, abiErr.Code)

	_, ok = AsError(errors.New("not an abi error"))
	require.False(t, ok)
}

func TestRegistryIsAdditiveAcrossMajorVersions(t *testing.T) {
	require.True(t, DefaultRegistry.Supports(1, "datastore_insert_bsatn"))
	require.False(t, DefaultRegistry.Supports(1, "views_scan_bsatn"))
	require.True(t, DefaultRegistry.Supports(2, "views_scan_bsatn"))
	require.True(t, DefaultRegistry.Supports(2, "datastore_insert_bsatn"))
	require.False(t, DefaultRegistry.Supports(99, "identity"))
}

func TestSlabAllocatesDenselyAndResetsInOneShot(t *testing.T) {
	s := NewSlab[string]()
	id1 := s.Put("a")
	id2 := s.Put("b")
	require.NotEqual(t, id1, id2)

	v, ok := s.Get(id1)
	require.True(t, ok)
	require.Equal(t, "a", v)

	require.True(t, s.Delete(id1))
	require.False(t, s.Delete(id1))

	require.Equal(t, 1, s.Len())
	s.Reset()
	require.Equal(t, 0, s.Len())
}
