package adapter

import "research-client/internal/domain/event"

// Publisher delivers events to every subscriber of the event's topic.
type Publisher interface {
	Publish(e event.Event)
}

// Subscriber registers handlers for one or more topics.
type Subscriber interface {
	Subscribe(handler func(event.Envelope), topics ...event.Topic) (unsubscribe func())
}
