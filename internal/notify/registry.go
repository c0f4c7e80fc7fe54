// internal/notify/registry.go

// Package notify routes caregiver notifications to delivery channels
// by target prefix.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Handler delivers a message to a target address.
type Handler func(ctx context.Context, target, message string) error

// Registry routes messages to the appropriate delivery handler based
// on target prefix (e.g. "telegram:", "log:"). Targets without a
// matching prefix go to the fallback handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry creates a registry whose fallback logs the notification.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		fallback: LogHandler,
	}
}

// Register adds a handler for targets starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// SetFallback replaces the handler used when no prefix matches.
func (r *Registry) SetFallback(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = handler
}

// Notify finds the handler matching the target prefix and calls it.
// Unmatched targets go to the fallback; with no fallback set, they
// are an error.
func (r *Registry) Notify(ctx context.Context, target, message string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(target, prefix) {
			return handler(ctx, target, message)
		}
	}
	if r.fallback != nil {
		return r.fallback(ctx, target, message)
	}
	return fmt.Errorf("no delivery handler for target: %s", target)
}

// LogHandler writes the notification to the structured log. It is the
// default fallback so simulated deployments still surface messages.
func LogHandler(_ context.Context, target, message string) error {
	slog.Info("notification", "target", target, "message", message)
	return nil
}
