package render

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Mode is sent with every request so the application knows it is rendering
// for the dev server.
const Mode = "dev-server"

// Message tags posted by workers.
const (
	TagDone  = "done"
	TagWatch = "watch"
	TagError = "error"
)

// Result kinds.
const (
	KindJSON        = "json"
	KindHTML        = "html"
	KindAPIResponse = "api-response"
)

// ErrPoolClosed is returned by Dispatch after Close.
var ErrPoolClosed = errors.New("render pool closed")

// errNoResult is reported when a render finishes without posting done or
// error.
var errNoResult = errors.New("render finished without a result")

// Request is what a worker renders.
type Request struct {
	Mode     string `json:"mode"`
	Pathname string `json:"pathname"`
}

// Message is posted by a worker during a render.
type Message struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

// Result is a successful render.
type Result struct {
	Kind string `json:"kind"`

	// json
	ContentJSON string `json:"contentJson,omitempty"`

	// html
	HTMLString string `json:"htmlString,omitempty"`

	// json and html
	Is404 bool `json:"is404,omitempty"`

	// api-response
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
}

// Validate checks that the result is one of the known kinds.
func (r Result) Validate() error {
	switch r.Kind {
	case KindJSON, KindHTML:
		return nil
	case KindAPIResponse:
		if r.StatusCode < 100 || r.StatusCode > 999 {
			return fmt.Errorf("api-response has invalid status code %d", r.StatusCode)
		}
		return nil
	default:
		return fmt.Errorf("unknown render result kind %q", r.Kind)
	}
}

// TaskError is a failed render. Payload is JSON: whatever the worker posted
// with its error message, or a JSON string describing a transport failure.
type TaskError struct {
	Payload json.RawMessage
}

func (e *TaskError) Error() string {
	var s string
	if json.Unmarshal(e.Payload, &s) == nil {
		return "render failed: " + s
	}
	return "render failed: " + string(e.Payload)
}

// transportError wraps a failure outside the render protocol (engine
// exception, crash, malformed message) in the same shape as a worker error.
func transportError(err error) *TaskError {
	payload, _ := json.Marshal(err.Error())
	return &TaskError{Payload: payload}
}

// rawJSON returns data as a JSON value, encoding it as a string when it is
// not valid JSON already.
func rawJSON(data string) json.RawMessage {
	if data == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(data)) {
		return json.RawMessage(data)
	}
	encoded, _ := json.Marshal(data)
	return encoded
}
