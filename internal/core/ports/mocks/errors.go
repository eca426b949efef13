package mocks

import "errors"

// ErrInjected is a static error tests hand to xxxFn overrides.
var ErrInjected = errors.New("injected failure")
