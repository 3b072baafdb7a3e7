package network

// Message is the transport envelope carried between hub and spoke processes.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication. Publishes
// never block on slow subscribers; delivery is best-effort, which is what the
// versioned-state protocol layered on top expects (readers tolerate skips).
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}
