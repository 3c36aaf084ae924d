package audit

import "github.com/google/uuid"

// NewEvent builds a journal entry with a fresh id, the current UTC
// timestamp, and the payload canonicalized to data_json. A payload that
// cannot be serialized degrades to "{}" — the journal write must never
// be the thing that fails a request.
func NewEvent(requestID, eventType string, data map[string]any) *Event {
	dataJSON, err := CanonicalJSON(data)
	if err != nil {
		dataJSON = "{}"
	}
	return &Event{
		ID:        uuid.NewString(),
		CreatedAt: NowISO(),
		RequestID: requestID,
		Type:      eventType,
		DataJSON:  dataJSON,
	}
}
