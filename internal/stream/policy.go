package stream

// Mode selects what a subscription does when its buffer is full.
type Mode string

const (
	// ModeDrop sheds the incoming event.
	ModeDrop Mode = "drop"
	// ModeBlock applies backpressure to the publisher.
	ModeBlock Mode = "block"
	// ModeRing evicts the oldest buffered event to make room.
	ModeRing Mode = "ring"
)

type Policy struct {
	Buffer        int
	Mode          Mode
	EmitDropEvent bool
}
