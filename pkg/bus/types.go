package bus

// SystemEvent is a typed event flowing through the bus, e.g. a session
// lifecycle change ("qr", "ready", "disconnected", ...).
type SystemEvent struct {
	Type   string      `json:"type"`   // event name forwarded to subscribers
	Source string      `json:"source"` // e.g. "relay"
	Data   interface{} `json:"data"`
}
