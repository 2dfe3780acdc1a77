package lifecycle

import (
	"errors"

	"rest-lifecycle/internal/registry"
)

var (
	// ErrNoModule is returned by the verb methods before RegisterModule.
	ErrNoModule = errors.New("lifecycle: no module registered")
	// ErrModuleRegistered is returned by a second RegisterModule call.
	ErrModuleRegistered = errors.New("lifecycle: module already registered")
	ErrNilRequest       = errors.New("lifecycle: nil request")
	ErrStopped          = errors.New("lifecycle: manager stopped")

	// ErrNotFound matches the error returned by Get for unknown identities.
	ErrNotFound = registry.ErrNotFound
)
