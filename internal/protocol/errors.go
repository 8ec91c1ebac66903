package protocol

import "errors"

// ---- Exhaustion ----
var (
	ErrModuleIDExhausted  = errors.New("module id space exhausted")
	ErrGroupIDExhausted   = errors.New("group id space exhausted")
	ErrMessageIDExhausted = errors.New("message id space exhausted")
	ErrUnknownGroup       = errors.New("unknown group")
)

// ---- Discovery ----
var (
	ErrDiscovery       = errors.New("handler discovery failed")
	ErrBadSignature    = errors.New("unsupported handler signature")
	ErrDuplicateTag    = errors.New("duplicate field in dispatch tag")
	ErrConflictingTag  = errors.New("conflicting explicit id and type reference")
	ErrMissingIdentity = errors.New("handler identity cannot be resolved")
	ErrNoIdentity      = errors.New("type has no assigned identity")
	ErrUnknownGroupRef = errors.New("group type was never declared")
	ErrDuplicateModule = errors.New("module already registered")
)

// ---- Lookup / dispatch ----
var (
	ErrHandlerNotFound = errors.New("handler not found")
	ErrNotRoutable     = errors.New("message type not routable in this direction")
	ErrSideMismatch    = errors.New("descriptor does not match dispatch side")
)

// ---- Misuse ----
var (
	ErrInvalidState = errors.New("settings are frozen after initialization")
	ErrInvalidValue = errors.New("invalid setting value")
)
