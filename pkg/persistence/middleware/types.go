package middleware

import "github.com/aretw0/wadialog/pkg/ports"

// Middleware allows wrapping a SessionBackend to add behavior.
type Middleware func(ports.SessionBackend) ports.SessionBackend

// Chain applies middlewares so that the first one is the outermost.
func Chain(backend ports.SessionBackend, mws ...Middleware) ports.SessionBackend {
	for i := len(mws) - 1; i >= 0; i-- {
		backend = mws[i](backend)
	}
	return backend
}
