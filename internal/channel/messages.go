package channel

// ControlEvent is a remote pointer event. Coordinates are in the sharer's
// screen space.
type ControlEvent struct {
	Type      string  `json:"type" msgpack:"type"`
	X         float64 `json:"x" msgpack:"x"`
	Y         float64 `json:"y" msgpack:"y"`
	Button    int     `json:"button,omitempty" msgpack:"button,omitempty"`
	Timestamp int64   `json:"timestamp" msgpack:"timestamp"`
}

// Pointer event types.
const (
	ControlMouseDown = "mousedown"
	ControlMouseUp   = "mouseup"
	ControlMouseMove = "mousemove"
	ControlClick     = "click"
)
