package coordinator

import "encoding/json"

// Envelope is the JSON document the HTTP API and the CLI print for a response.
type Envelope struct {
	Source      Source          `json:"source"`
	Provider    string          `json:"provider,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Shared      bool            `json:"shared,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// Envelope wraps the payload of r. A payload that is not valid JSON is
// embedded as a JSON string.
func (r Response) Envelope() Envelope {
	data := json.RawMessage(r.Payload)
	if !json.Valid(data) {
		data, _ = json.Marshal(string(r.Payload))
	}
	return Envelope{
		Source:      r.Source,
		Provider:    r.Provider,
		Fingerprint: r.Fingerprint.String(),
		Shared:      r.Shared,
		Data:        data,
	}
}
