package models

import "encoding/json"

// Task is the entity payload synchronized by offsync.
//
// The core never inspects these fields; they travel through the store,
// queue and remote client as opaque JSON. Task exists so callers and tests
// have a concrete shape to marshal.
type Task struct {
	Title string `json:"title"`
	Notes string `json:"notes,omitempty"`
	Done  bool   `json:"done"`
}

// Marshal encodes the task as an opaque payload.
func (t *Task) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
