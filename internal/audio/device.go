package audio

import "errors"

var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrAlreadyStarted    = errors.New("audio stream already started")
)

// InputDevice abstracts a capture device. Start begins delivering fixed-size
// PCM16LE mono frames through emit; emit is called from the device's capture
// callback and must never block. If capture ends on its own, the device calls
// closed exactly once, after the final emit, with the cause. Stop joins the
// capture callback before returning and never triggers closed, so no emit or
// closed call happens after Stop returns.
type InputDevice interface {
	Start(sampleRateHz, frameBytes int, emit func(frame []byte), closed func(err error)) error
	Stop() error
}

// OutputDevice abstracts a playback device. Write blocks until the device
// has consumed the chunk; Silence drops anything the device still holds and
// quiets the output immediately.
type OutputDevice interface {
	Start(sampleRateHz int) error
	Write(pcm []byte) error
	Silence() error
	Stop() error
}
