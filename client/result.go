package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
)

// RawEnvelope is what a successful call yields when the body is not a JSON value.
type RawEnvelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Result is the outcome of a successful call. Exactly one of JSON and Raw is set.
type Result struct {
	// JSON is the decoded response body. Numbers are json.Number, so integers keep
	// their exact value.
	JSON any
	// Raw carries the HTTP status and body text when the body was not valid JSON
	// or decoded to null.
	Raw *RawEnvelope

	body json.RawMessage
}

func newResult(status int, body []byte) *Result {
	v, err := decodeJSON(body)
	if err != nil || v == nil {
		return &Result{Raw: &RawEnvelope{Status: status, Message: string(body)}}
	}
	return &Result{JSON: v, body: body}
}

// decodeJSON decodes a single JSON value, keeping numbers as json.Number.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

// IsRaw reports whether the body could not be decoded as JSON.
func (r *Result) IsRaw() bool {
	return r.Raw != nil
}

// Map returns the result as a mapping. A raw result becomes {"status": ..., "message": ...};
// a JSON body that is not an object is returned under the "data" key.
func (r *Result) Map() map[string]any {
	if r.Raw != nil {
		return map[string]any{
			"status":  r.Raw.Status,
			"message": r.Raw.Message,
		}
	}
	if m, ok := r.JSON.(map[string]any); ok {
		return m
	}
	return map[string]any{"data": r.JSON}
}

// Decode stores the result in the value pointed to by v, as encoding/json would.
// JSON results are decoded from the body as received.
func (r *Result) Decode(v any) error {
	data, err := r.MarshalJSON()
	if err != nil {
		return fault.Wrap(err, fmsg.With("encoding result failed"))
	}
	if err = json.Unmarshal(data, v); err != nil {
		return fault.Wrap(err, fmsg.With("decoding result failed"))
	}
	return nil
}

// MarshalJSON returns the body the service sent, or the raw envelope.
func (r *Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Raw != nil:
		return json.Marshal(r.Raw)
	case r.body != nil:
		return r.body, nil
	default:
		return json.Marshal(r.JSON)
	}
}
