package httpclient

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPath is returned when a method definition has neither a path
	// template nor a path function.
	ErrMissingPath = errors.New("path is required")

	// ErrUnknownResource is returned when a call names a resource that the
	// manifest does not define.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrUnknownMethod is returned when a call names a method that the
	// resource does not define.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrAborted is the cause recorded when a middleware aborts without
	// supplying its own error.
	ErrAborted = errors.New("request aborted")

	// ErrNoStub is returned by MockGateway when no stub matches a request.
	ErrNoStub = errors.New("no stub matches request")

	errNilResponse = errors.New("gateway returned a nil response")
)

// Phase identifies the middleware hook that failed.
type Phase string

const (
	// PhaseRequest covers prepareRequest and request hooks.
	PhaseRequest Phase = "request"
	// PhaseResponse covers response hooks.
	PhaseResponse Phase = "response"
)

// MissingParameterError reports a required path placeholder with no value.
type MissingParameterError struct {
	Param    string
	Template string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("required parameter missing (%s), %q cannot be resolved", e.Param, e.Template)
}

// MiddlewareError wraps a failure raised by a middleware hook.
//
// When Invalid is set the hook did not fail but returned a nil value where a
// Request or Response was expected.
type MiddlewareError struct {
	Middleware string
	Phase      Phase
	Invalid    bool
	Err        error
}

func (e *MiddlewareError) Error() string {
	name := e.Middleware
	if name == "" {
		name = "anonymous"
	}
	if e.Invalid {
		expected := "Request"
		if e.Phase == PhaseResponse {
			expected = "Response"
		}
		return fmt.Sprintf("middleware %q should return %q but returned \"nil\"", name, expected)
	}
	return fmt.Sprintf("middleware %q failed in the %s phase: %v", name, e.Phase, e.Err)
}

func (e *MiddlewareError) Unwrap() error {
	return e.Err
}

// PanicError carries the value recovered from a panicking hook or gateway.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RenewLoopError is returned when the middleware stack runs more times than
// the configured limit allows, which usually means a response hook keeps
// calling renew.
type RenewLoopError struct {
	Invocations int
}

func (e *RenewLoopError) Error() string {
	return fmt.Sprintf(
		"infinite loop detected (middleware stack invoked %d times). Check the use of \"renew\" in one of the middleware",
		e.Invocations,
	)
}

// ResponseError rejects a call with the Response that caused it, so callers
// can still inspect status, headers and body of a failed call.
type ResponseError struct {
	Response *Response
}

func (e *ResponseError) Error() string {
	resp := e.Response
	if resp == nil {
		return "request failed"
	}
	msg := fmt.Sprintf("%s failed with status %d", resp.Request(), resp.Status())
	if err := resp.Error(); err != nil {
		msg += ": " + err.Error()
	}
	return msg
}

// Unwrap exposes the last error recorded on the response.
func (e *ResponseError) Unwrap() error {
	if e.Response == nil {
		return nil
	}
	return e.Response.Error()
}

// Reject wraps resp into a *ResponseError.
func Reject(resp *Response) error {
	return &ResponseError{Response: resp}
}

// AsResponse extracts the Response from a rejection produced by Reject.
func AsResponse(err error) (*Response, bool) {
	var respErr *ResponseError
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response, true
	}
	return nil, false
}

// isWrapped reports whether err already carries pipeline context and must
// pass through hook boundaries untouched.
func isWrapped(err error) bool {
	var mwErr *MiddlewareError
	var loopErr *RenewLoopError
	return errors.As(err, &mwErr) || errors.As(err, &loopErr)
}
