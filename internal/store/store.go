// Package store provides the key-value store shared by the scanner, the
// dependency tracker and the caches, with memory and redis backends.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("store: key not found")

// Message represents a pub/sub message.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription represents an active pub/sub subscription.
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

// Store defines the key-value store interface.
type Store interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)

	Publish(channel string, message []byte) error
	Subscribe(channel string) (Subscription, error)

	Close() error
}
