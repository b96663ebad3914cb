package model

// Sink consumes inbound traffic of a subscribed channel. Transports call it
// from their own callback goroutines.
type Sink interface {
	HandleMessage(RawMessage)
	HandlePresence(PresenceEvent)
}

// Subscription is an active channel subscription.
type Subscription interface {
	Unsubscribe() error
}
