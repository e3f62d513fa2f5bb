package capture

import "github.com/hraban/opus"

// OpusDecoderFactory returns a fresh 48 kHz mono Opus decoder. Each track
// gets its own decoder since Opus decode state is per-stream.
func OpusDecoderFactory() (Decoder, error) {
	return opus.NewDecoder(48000, 1)
}
