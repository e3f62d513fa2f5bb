package transport

import "context"

// Session is a live connection to a room. Events are delivered in provider
// order on the channel returned by Events; the channel closes when the
// session ends, after a final EventLeft.
//
// Leave detaches from the room; Destroy additionally releases all provider
// resources. Both are safe to call more than once.
type Session interface {
	Events() <-chan Event
	SetLocalAudio(enabled bool) error
	SetLocalVideo(enabled bool) error
	StartRecording() error
	StopRecording() error
	Leave() error
	Destroy() error
}

// Dialer joins a room at url using an access token minted by the broker.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Session, error)
}
