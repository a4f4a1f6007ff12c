package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Cropped is a track produced by a Cropper, plus whatever worker feeds it.
type Cropped struct {
	Track webrtc.TrackLocal

	once    sync.Once
	release func()
}

// NewCropped pairs a track with the function that stops its worker.
func NewCropped(track webrtc.TrackLocal, release func()) *Cropped {
	return &Cropped{Track: track, release: release}
}

// Release stops the worker feeding Track. It is safe to call more than once.
func (c *Cropped) Release() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
}

// Cropper turns a raw capture track into one showing only region. The pixel
// pipeline behind it is opaque to callers.
type Cropper interface {
	ApplyCropping(raw webrtc.TrackLocal, region Region) (*Cropped, error)
}

// PassthroughCropper validates the region and forwards the raw track. It
// stands in where no pixel pipeline is available; the viewer then sees the
// full frame.
type PassthroughCropper struct{}

// ApplyCropping implements Cropper.
func (PassthroughCropper) ApplyCropping(raw webrtc.TrackLocal, region Region) (*Cropped, error) {
	if !region.Empty() {
		if err := region.Validate(); err != nil {
			return nil, err
		}
	}
	return NewCropped(raw, nil), nil
}
