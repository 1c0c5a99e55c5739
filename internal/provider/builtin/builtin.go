// Package builtin wires the adapters shipped with fiscalsync into a registry.
package builtin

import (
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/provider/anaf"
	"github.com/roach88/fiscalsync/internal/provider/smartbill"
)

// Registry returns a registry holding every built-in adapter.
func Registry() (*provider.Registry, error) {
	r := provider.NewRegistry()
	for name, ctor := range map[string]provider.Constructor{
		anaf.Name:      anaf.New,
		smartbill.Name: smartbill.New,
	} {
		if err := r.Register(name, ctor); err != nil {
			return nil, err
		}
	}
	return r, nil
}
