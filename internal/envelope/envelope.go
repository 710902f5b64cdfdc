// Package envelope defines the uniform {success, data?, error?} result every
// tool hands back to the model.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Result is the tool-result envelope.
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func OK(data interface{}) Result {
	return Result{Success: true, Data: data}
}

func Fail(format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// FromError wraps err as a failure, or returns OK(data) when err is nil.
func FromError(data interface{}, err error) Result {
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return OK(data)
}

// JSON serializes the envelope. A payload that cannot be encoded is replaced
// by a failure naming the encode error.
func (r Result) JSON() string {
	payload, err := json.Marshal(r)
	if err == nil {
		return string(payload)
	}
	fallback, fbErr := json.Marshal(Result{
		Success: false,
		Error:   fmt.Sprintf("result could not be encoded: %v", err),
	})
	if fbErr == nil {
		return string(fallback)
	}
	return `{"success":false,"error":"result could not be encoded"}`
}
