package domain

// MessageBus carries inbound messages from a transport to the worker loop.
type MessageBus interface {
	Publish(msg Message)
	Subscribe() <-chan Message
	Close()
}
