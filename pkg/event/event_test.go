package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnexec/nnexec/pkg/nnerrors"
)

func TestSignalSuccessReleasesWaiters(t *testing.T) {
	e := New()
	var wg sync.WaitGroup
	results := make([]State, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := e.Wait()
			results[i] = s
			assert.NoError(t, err)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	e.Signal(nil)
	wg.Wait()

	for _, s := range results {
		assert.Equal(t, Success, s)
	}
}

func TestSignalErrorCarriesKind(t *testing.T) {
	e := New()
	e.Signal(nnerrors.New(nnerrors.OpFailed, "driver crashed"))

	s, err := e.Wait()
	assert.Equal(t, Error, s)
	require.Error(t, err)
	assert.Equal(t, nnerrors.OpFailed, nnerrors.KindOf(err))
}

func TestSignalIsSingleShot(t *testing.T) {
	e := New()
	e.Signal(nil)
	e.Signal(nnerrors.New(nnerrors.OpFailed, "too late"))

	s, err := e.Wait()
	assert.Equal(t, Success, s)
	assert.NoError(t, err)
}

func TestPollDoesNotBlock(t *testing.T) {
	e := New()
	assert.Equal(t, Pending, e.Poll())
	e.Signal(nil)
	assert.Equal(t, Success, e.Poll())
}
