// Package bus carries progress events from long running work to whoever is
// watching it, such as the CLI.
package bus

import (
	eventbus "github.com/asaskevich/EventBus"
)

type Subscriber interface {
	Subscribe(topic string, fn any) error
	Unsubscribe(topic string, handler any) error
}

type Publisher interface {
	Publish(topic string, args ...any)
}

type Bus interface {
	Subscriber
	Publisher
}

func New() Bus {
	return &EventBus{eventbus.New()}
}

// EventBus delivers events synchronously on the publishing goroutine.
type EventBus struct {
	bus eventbus.Bus
}

func (e *EventBus) Publish(topic string, args ...any) {
	e.bus.Publish(topic, args...)
}

func (e *EventBus) Subscribe(topic string, handler any) error {
	return e.bus.Subscribe(topic, handler)
}

func (e *EventBus) Unsubscribe(topic string, handler any) error {
	return e.bus.Unsubscribe(topic, handler)
}

// On subscribes fn to topic, with the event type checked at compile time.
// The returned func unsubscribes.
func On[T any](s Subscriber, topic string, fn func(T)) (func(), error) {
	if err := s.Subscribe(topic, fn); err != nil {
		return nil, err
	}
	return func() { _ = s.Unsubscribe(topic, fn) }, nil
}

type NoopBus struct{}

func (b *NoopBus) Publish(topic string, args ...any)           {}
func (b *NoopBus) Subscribe(topic string, handler any) error   { return nil }
func (b *NoopBus) Unsubscribe(topic string, handler any) error { return nil }
