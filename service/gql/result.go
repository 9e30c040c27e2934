package gql

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ErrNoData is returned by Decode when the response carried no data.
var ErrNoData = errors.New("graphql response has no data")

// Result is a parsed GraphQL response. GraphQL-level errors are data: they are returned
// in Errors and never as a Go error by the pipeline.
type Result struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Errors     gqlerror.List   `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

// HasData reports whether the response carried a non-null data object.
func (r *Result) HasData() bool {
	if r == nil {
		return false
	}
	trimmed := bytes.TrimSpace(r.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Decode unmarshals the data object into v.
func (r *Result) Decode(v any) error {
	if !r.HasData() {
		return ErrNoData
	}
	return json.Unmarshal(r.Data, v)
}

// FirstError returns the first GraphQL error, or nil.
func (r *Result) FirstError() *gqlerror.Error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// ErrorCode returns extensions.code of a GraphQL error, or "" when absent.
func ErrorCode(err *gqlerror.Error) string {
	if err == nil || err.Extensions == nil {
		return ""
	}
	code, _ := err.Extensions["code"].(string)
	return code
}

// ErrorCodes returns the code of every error, in order.
func (r *Result) ErrorCodes() []string {
	if r == nil {
		return nil
	}
	codes := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		codes[i] = ErrorCode(e)
	}
	return codes
}
