package presence

import (
	"context"
	"sync"
)

// Local keeps bindings in memory. It only knows connections held by this
// process.
type Local struct {
	mu    sync.RWMutex
	names map[string]map[string]string // namespace -> connID -> name
}

// NewLocal returns an empty in-memory registry.
func NewLocal() *Local {
	return &Local{names: make(map[string]map[string]string)}
}

func (l *Local) Set(_ context.Context, namespace, connID, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ns := l.names[namespace]
	if ns == nil {
		ns = make(map[string]string)
		l.names[namespace] = ns
	}
	if _, bound := ns[connID]; !bound {
		ns[connID] = name
	}
	return nil
}

func (l *Local) Get(_ context.Context, namespace, connID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	name, ok := l.names[namespace][connID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

func (l *Local) GetMany(_ context.Context, namespace string, connIDs []string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ns := l.names[namespace]
	out := make([]string, len(connIDs))
	for i, id := range connIDs {
		if name, ok := ns[id]; ok {
			out[i] = name
		} else {
			out[i] = Unknown
		}
	}
	return out, nil
}

func (l *Local) Remove(_ context.Context, namespace, connID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ns := l.names[namespace]; ns != nil {
		delete(ns, connID)
		if len(ns) == 0 {
			delete(l.names, namespace)
		}
	}
	return nil
}

// Len reports how many bindings a namespace holds.
func (l *Local) Len(namespace string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.names[namespace])
}
