package types

import "strconv"

// AttributeAsset keys the curve asset on every curve event.
const AttributeAsset = "asset"

// Event is the flattened form of a curve event handed to stream
// subscribers. Values are strings so every transport encodes them alike.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent returns an event of the given type with no attributes.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Attributes: make(map[string]string)}
}

// With stores an attribute and returns the event for chaining.
func (e *Event) With(key, value string) *Event {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithUint stores a decimal unsigned attribute.
func (e *Event) WithUint(key string, value uint64) *Event {
	return e.With(key, strconv.FormatUint(value, 10))
}

// WithInt stores a decimal signed attribute.
func (e *Event) WithInt(key string, value int64) *Event {
	return e.With(key, strconv.FormatInt(value, 10))
}

// Attribute returns the value stored under key, or "" when absent.
func (e *Event) Attribute(key string) string {
	if e == nil {
		return ""
	}
	return e.Attributes[key]
}
