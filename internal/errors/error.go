package errors

import (
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryStartup Category = "startup"
	CategoryConfig  Category = "config"
	CategoryCompile Category = "compile"
	CategoryRender  Category = "render"
	CategoryWatch   Category = "watch"
	CategoryCLI     Category = "cli"
)

// PagesError is a structured error with an explanation and a suggestion.
type PagesError struct {
	// Code is a unique error identifier (e.g., "E130").
	Code string

	// Category is the error type (startup, compile, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Path is the file the error relates to, if any.
	Path string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *PagesError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *PagesError) Unwrap() error {
	return e.Wrapped
}

// WithPath records the file the error relates to.
func (e *PagesError) WithPath(path string) *PagesError {
	e.Path = path
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *PagesError) WithSuggestion(s string) *PagesError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *PagesError) WithDetail(d string) *PagesError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *PagesError) Wrap(err error) *PagesError {
	e.Wrapped = err
	return e
}

// New creates a PagesError from a registered error code.
func New(code string) *PagesError {
	template, ok := registry[code]
	if !ok {
		return &PagesError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &PagesError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// Is reports whether err is a PagesError with the given code.
func Is(err error, code string) bool {
	for err != nil {
		if pe, ok := err.(*PagesError); ok && pe.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
