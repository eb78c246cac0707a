// Package syncer keeps in-memory caches consistent across instances through
// the store's pub/sub channel.
package syncer

import (
	"fmt"
	"sync"

	"pt-watch/internal/store"

	"github.com/sirupsen/logrus"
)

// LoaderFunc loads the authoritative value, usually from the database.
type LoaderFunc[T any] func() (T, error)

// AfterReloadHook runs after every successful load with the new value.
type AfterReloadHook[T any] func(newValue T)

// CacheSyncer caches a value of type T and reloads it whenever an
// invalidation message arrives on its channel. Invalidate publishes to the
// channel, so every subscribed instance reloads, including the publisher.
type CacheSyncer[T any] struct {
	mu          sync.RWMutex
	value       T
	loader      LoaderFunc[T]
	store       store.Store
	channel     string
	logger      *logrus.Entry
	afterReload AfterReloadHook[T]

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCacheSyncer creates a syncer, performs the initial load and starts the
// subscription loop.
func NewCacheSyncer[T any](
	loader LoaderFunc[T],
	s store.Store,
	channel string,
	logger *logrus.Entry,
	afterReload AfterReloadHook[T],
) (*CacheSyncer[T], error) {
	cs := &CacheSyncer[T]{
		loader:      loader,
		store:       s,
		channel:     channel,
		logger:      logger,
		afterReload: afterReload,
		stopChan:    make(chan struct{}),
	}

	if err := cs.Reload(); err != nil {
		return nil, fmt.Errorf("initial load failed for channel %s: %w", channel, err)
	}

	sub, err := s.Subscribe(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	cs.wg.Add(1)
	go cs.listen(sub)

	return cs, nil
}

// Get returns the cached value.
func (cs *CacheSyncer[T]) Get() T {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.value
}

// Invalidate notifies all instances that the value changed.
func (cs *CacheSyncer[T]) Invalidate() error {
	return cs.store.Publish(cs.channel, []byte("reload"))
}

// Reload refreshes the cached value from the loader.
func (cs *CacheSyncer[T]) Reload() error {
	newValue, err := cs.loader()
	if err != nil {
		return err
	}

	cs.mu.Lock()
	cs.value = newValue
	cs.mu.Unlock()

	if cs.afterReload != nil {
		cs.afterReload(newValue)
	}
	return nil
}

// Stop terminates the subscription loop.
func (cs *CacheSyncer[T]) Stop() {
	cs.stopOnce.Do(func() {
		close(cs.stopChan)
	})
	cs.wg.Wait()
}

func (cs *CacheSyncer[T]) listen(sub store.Subscription) {
	defer cs.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-cs.stopChan:
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			cs.logger.Debugf("received invalidation message: %s", string(msg.Payload))
			if err := cs.Reload(); err != nil {
				cs.logger.WithError(err).Error("failed to reload cache after invalidation")
			}
		}
	}
}
