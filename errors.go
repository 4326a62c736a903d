package scuffgo

import "github.com/charmbracelet/log"

// ErrorHandler lets an embedding application observe fatal conditions a
// Client cannot recover from on its own (a sandbox failing to launch),
// beyond what a Poll'd
// Report already covers for ordinary per-device/per-sandbox failures.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs through the same charmbracelet/log logger
// the rest of the client uses.
type DefaultErrorHandler struct{}

func (DefaultErrorHandler) HandleError(err error) {
	log.Error("client error", "err", err)
}

// PanicErrorHandler is useful in tests that must fail loudly on any
// unexpected client-level error.
type PanicErrorHandler struct{}

func (PanicErrorHandler) HandleError(err error) {
	panic(err)
}
