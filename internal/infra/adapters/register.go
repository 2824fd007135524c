// Package adapters wires the built-in remote adapters into a registry.
package adapters

import (
	"github.com/coachpo/yieldcache/internal/app/provider"
	"github.com/coachpo/yieldcache/internal/infra/adapters/fake"
	"github.com/coachpo/yieldcache/internal/infra/adapters/rest"
)

// RegisterAll installs every built-in adapter factory.
func RegisterAll(reg *provider.Registry) {
	if reg == nil {
		return
	}
	fake.RegisterFactory(reg)
	rest.RegisterFactory(reg)
}
