package engine

import (
	"context"

	"github.com/statorq/statorq/pkg/models"
)

// Capability is one interface tag in a resource type's capability chain.
type Capability string

// Resource is a domain entity participating in the engine.
type Resource interface {
	// Ref identifies the resource by type tag and id.
	Ref() models.Ref
	// Type returns the registered type descriptor.
	Type() *ResourceType
}

// ResourceType describes one registered resource type.
type ResourceType struct {
	// Tag is the type's table name, used as the URL segment of the
	// ingress endpoints.
	Tag string
	// Singular is the event target, e.g. "model" for tag "models". The
	// derived event a transition emits has type "<singular>:<state>".
	Singular string
	// Capabilities is the type's interface chain, most specific first.
	Capabilities []Capability
	// Resolve loads the resource by id. Optional; when nil resources of
	// this type resolve by reference alone, without an existence check.
	Resolve func(ctx context.Context, store models.Store, id int64) (Resource, error)
	// Snapshot renders the resource for event payloads. Optional.
	Snapshot func(ctx context.Context, store models.Store, r Resource) (models.JSONMap, error)
}

// HasCapability reports whether cap appears in the type's chain.
func (t *ResourceType) HasCapability(cap Capability) bool {
	for _, c := range t.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// refResource is the default Resource for types without a Resolve hook.
type refResource struct {
	typ *ResourceType
	id  int64
}

func (r refResource) Ref() models.Ref {
	return models.Ref{Type: r.typ.Tag, ID: r.id}
}

func (r refResource) Type() *ResourceType {
	return r.typ
}

// NewResource builds a reference-only Resource of the given type.
func NewResource(typ *ResourceType, id int64) Resource {
	return refResource{typ: typ, id: id}
}

// TypeRegistry maps type tags to their descriptors.
type TypeRegistry struct {
	byTag map[string]*ResourceType
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{byTag: make(map[string]*ResourceType)}
}

// Register adds a resource type. Duplicate tags and empty capability chains
// fail with ConfigError.
func (r *TypeRegistry) Register(typ *ResourceType) error {
	if typ.Tag == "" {
		return configErrorf("resource type with empty tag")
	}
	if typ.Singular == "" {
		return configErrorf("resource type %q has no singular form", typ.Tag)
	}
	if len(typ.Capabilities) == 0 {
		return configErrorf("resource type %q has no capabilities", typ.Tag)
	}
	if _, exists := r.byTag[typ.Tag]; exists {
		return configErrorf("resource type %q registered twice", typ.Tag)
	}
	r.byTag[typ.Tag] = typ
	return nil
}

// ByTag returns the descriptor for a type tag.
func (r *TypeRegistry) ByTag(tag string) (*ResourceType, bool) {
	typ, ok := r.byTag[tag]
	return typ, ok
}

// Resolve loads the resource identified by (tag, id).
// Returns models.ErrResourceNotFound for unknown tags or, when the type has a
// Resolve hook, for ids the hook rejects.
func (r *TypeRegistry) Resolve(ctx context.Context, store models.Store, tag string, id int64) (Resource, error) {
	typ, ok := r.byTag[tag]
	if !ok {
		return nil, models.ErrResourceNotFound
	}
	if typ.Resolve != nil {
		return typ.Resolve(ctx, store, id)
	}
	return NewResource(typ, id), nil
}
