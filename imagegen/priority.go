package imagegen

import (
	"fmt"
	"strings"
	"sync"
)

// ServicePriority is the ordered list of backend names the selector walks.
// It may be changed at any time; in-flight attempts keep the snapshot they
// started with.
type ServicePriority struct {
	mu    sync.RWMutex
	order []string
	known map[string]bool
}

// NewServicePriority validates order against known and returns the list.
func NewServicePriority(order []string, known []string) (*ServicePriority, error) {
	p := &ServicePriority{known: make(map[string]bool, len(known))}
	for _, name := range known {
		p.known[strings.ToUpper(name)] = true
	}
	if err := p.Set(order); err != nil {
		return nil, err
	}
	return p, nil
}

// Snapshot returns a copy of the current order.
func (p *ServicePriority) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Set replaces the order. Unknown and duplicate names are rejected and the
// previous order is kept.
func (p *ServicePriority) Set(order []string) error {
	if len(order) == 0 {
		return fmt.Errorf("imagegen: service priority cannot be empty")
	}
	next := make([]string, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, raw := range order {
		name := strings.ToUpper(strings.TrimSpace(raw))
		if !p.known[name] {
			return fmt.Errorf("imagegen: unknown backend %q", raw)
		}
		if seen[name] {
			return fmt.Errorf("imagegen: backend %q listed twice", name)
		}
		seen[name] = true
		next = append(next, name)
	}

	p.mu.Lock()
	p.order = next
	p.mu.Unlock()
	return nil
}

// Swap exchanges the entries at positions i and j.
func (p *ServicePriority) Swap(i, j int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || j < 0 || i >= len(p.order) || j >= len(p.order) {
		return fmt.Errorf("imagegen: swap positions %d,%d out of range for %d backends", i, j, len(p.order))
	}
	p.order[i], p.order[j] = p.order[j], p.order[i]
	return nil
}
