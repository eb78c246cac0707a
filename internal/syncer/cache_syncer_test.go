package syncer

import (
	"errors"
	"testing"
	"time"

	"pt-watch/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWait = 2 * time.Second
	testTick = 10 * time.Millisecond
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func testLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestNewCacheSyncer(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		syncer, err := NewCacheSyncer(func() (string, error) {
			return "test data", nil
		}, newTestStore(t), "test-channel", testLogger(), nil)

		require.NoError(t, err)
		defer syncer.Stop()
		assert.Equal(t, "test data", syncer.Get())
	})

	t.Run("loader error", func(t *testing.T) {
		syncer, err := NewCacheSyncer(func() (string, error) {
			return "", errors.New("load error")
		}, newTestStore(t), "test-channel", testLogger(), nil)

		assert.Error(t, err)
		assert.Nil(t, syncer)
	})
}

func TestCacheSyncerReload(t *testing.T) {
	counter := 0
	syncer, err := NewCacheSyncer(func() (int, error) {
		counter++
		return counter, nil
	}, newTestStore(t), "test-channel", testLogger(), nil)
	require.NoError(t, err)
	defer syncer.Stop()

	assert.Equal(t, 1, syncer.Get())
	require.NoError(t, syncer.Reload())
	assert.Equal(t, 2, syncer.Get())
}

func TestCacheSyncerInvalidate(t *testing.T) {
	s := newTestStore(t)
	counter := 0
	syncer, err := NewCacheSyncer(func() (int, error) {
		counter++
		return counter, nil
	}, s, "test-channel", testLogger(), nil)
	require.NoError(t, err)
	defer syncer.Stop()

	require.NoError(t, syncer.Invalidate())

	assert.Eventually(t, func() bool {
		return syncer.Get() >= 2
	}, testWait, testTick, "invalidation should trigger a reload through pub/sub")
}

func TestCacheSyncerAfterReloadHook(t *testing.T) {
	var hookValue string
	syncer, err := NewCacheSyncer(func() (string, error) {
		return "test data", nil
	}, newTestStore(t), "test-channel", testLogger(), func(v string) {
		hookValue = v
	})
	require.NoError(t, err)
	defer syncer.Stop()

	assert.Equal(t, "test data", hookValue)
}

func TestCacheSyncerStopIsIdempotent(t *testing.T) {
	syncer, err := NewCacheSyncer(func() (string, error) {
		return "x", nil
	}, newTestStore(t), "test-channel", testLogger(), nil)
	require.NoError(t, err)

	syncer.Stop()
	assert.NotPanics(t, func() { syncer.Stop() })
}
