// Package minter mints opaque identifiers for jobs and exports.
package minter

import (
	"github.com/Shyp/go-types"
	"github.com/arkstead/keepsake/models"
)

// Minter issues identifiers unique within its issuing scope. equivalentURI
// optionally records an external URI the new identity is equivalent to;
// the local implementation ignores it.
type Minter interface {
	MintIdentity(resourceType string, equivalentURI string) (types.PrefixUUID, error)
}

// Local mints prefixed UUIDs without consulting an external service.
type Local struct{}

var prefixes = map[string]string{
	"job":    models.IDPrefix,
	"export": models.ExportIDPrefix,
}

func (Local) MintIdentity(resourceType string, equivalentURI string) (types.PrefixUUID, error) {
	prefix, ok := prefixes[resourceType]
	if !ok {
		return types.PrefixUUID{}, models.NewValidation("Unknown resource type %q", resourceType)
	}
	return types.GenerateUUID(prefix), nil
}
