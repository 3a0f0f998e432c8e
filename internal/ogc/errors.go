package ogc

import (
	"fmt"
	"strings"
)

// Exception codes reported in WMS exception documents.
const (
	CodeInvalidFormat         = "InvalidFormat"
	CodeInvalidCRS            = "InvalidCRS"
	CodeLayerNotDefined       = "LayerNotDefined"
	CodeStyleNotDefined       = "StyleNotDefined"
	CodeLayerNotQueryable     = "LayerNotQueryable"
	CodeMissingParameterValue = "MissingParameterValue"
	CodeInvalidParameterValue = "InvalidParameterValue"
	CodeOperationNotSupported = "OperationNotSupported"
)

// ConfigurationError reports a broken server or registry setup. It is fatal at
// startup and never produced by the request path.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ProtocolError is a recoverable, per-request failure caused by the client.
type ProtocolError struct {
	Message string
	Code    string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// NewProtocolError formats a ProtocolError without an exception code.
func NewProtocolError(format string, args ...any) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// NewCodedError formats a ProtocolError carrying an exception code.
func NewCodedError(code, format string, args ...any) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...), Code: code}
}

// ValidationError is a ProtocolError raised while validating request parameters.
type ValidationError struct {
	ProtocolError
	Parameter string
}

func (e *ValidationError) Unwrap() error {
	return &e.ProtocolError
}

func missingParameter(name string) error {
	return &ValidationError{
		ProtocolError: ProtocolError{
			Message: fmt.Sprintf("Mandatory parameter %q missing from request.", name),
			Code:    CodeMissingParameterValue,
		},
		Parameter: name,
	}
}

func unparseableParameter(name, raw, typeName string) error {
	return &ValidationError{
		ProtocolError: ProtocolError{
			Message: fmt.Sprintf("Invalid value %q for parameter %q, expected %s.", raw, name, typeName),
			Code:    CodeInvalidParameterValue,
		},
		Parameter: name,
	}
}

func invalidParameter(name, raw string, allowed []string) error {
	return &ValidationError{
		ProtocolError: ProtocolError{
			Message: fmt.Sprintf("Parameter %q has an illegal value %q, allowed values are: %s.",
				name, raw, strings.Join(allowed, ", ")),
			Code: CodeInvalidParameterValue,
		},
		Parameter: name,
	}
}

// RenderError wraps a failure raised by the rendering engine. Unless the caller
// classifies it otherwise it is reported to the client like a ProtocolError.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering failed: %s", e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
