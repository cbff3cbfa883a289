package agents

import (
	"fmt"
)

// Catalog is the fixed, ordered set of registered agents. Catalog order
// is the deterministic tie-break when the router ranks candidates with
// equal priority and similar confidence.
type Catalog struct {
	order  []string
	byName map[string]Agent
}

// NewCatalog builds a catalog from the given agents. The catalog must
// contain a fallback agent; registration order is preserved.
func NewCatalog(list ...Agent) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Agent, len(list))}
	for _, a := range list {
		name := a.Name()
		if name == "" {
			return nil, fmt.Errorf("agent with empty name")
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("duplicate agent %q", name)
		}
		c.byName[name] = a
		c.order = append(c.order, name)
	}
	if _, ok := c.byName[Fallback]; !ok {
		return nil, fmt.Errorf("catalog must include the %q agent", Fallback)
	}
	return c, nil
}

// Get returns an agent by name.
func (c *Catalog) Get(name string) (Agent, bool) {
	a, ok := c.byName[name]
	return a, ok
}

// Has reports whether the name is a valid catalog member. Handoff targets
// are validated against this set.
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Names returns agent names in registration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Index returns an agent's position in catalog order, for deterministic
// tie-breaking. Unknown names sort last.
func (c *Catalog) Index(name string) int {
	for i, n := range c.order {
		if n == name {
			return i
		}
	}
	return len(c.order)
}

// Fallback returns the fallback agent.
func (c *Catalog) Fallback() Agent {
	return c.byName[Fallback]
}
