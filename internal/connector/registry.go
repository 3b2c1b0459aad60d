// SPDX-License-Identifier: LGPL-3.0-or-later

package connector

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a connector instance from its configured settings.
type Factory func(id string, settings Settings) (Connector, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a connector type available for configuration. It is meant
// to be called from package init functions and panics on duplicates.
func Register(typ string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[typ]; exists {
		panic(fmt.Sprintf("connector type %q registered twice", typ))
	}
	registry[typ] = factory
}

// Known reports whether the connector type is registered.
func Known(typ string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[typ]
	return ok
}

// Types returns the registered connector types, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for typ := range registry {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// New instantiates a connector of the given type.
func New(typ, id string, settings Settings) (Connector, error) {
	registryMu.RLock()
	factory, ok := registry[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown connector type %q", typ)
	}
	return factory(id, settings)
}
