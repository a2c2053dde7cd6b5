package api

import (
	"context"

	"eavkit/internal/eav"
)

// Engine — операции eav.Engine, доступные через HTTP.
type Engine interface {
	Ping(ctx context.Context) error
	ListEntityTypes(ctx context.Context) ([]*eav.EntityType, error)
	ResolveTypeRef(ctx context.Context, ref string) (*eav.EntityType, error)
	ResolveHierarchy(ctx context.Context, typeID string) ([]*eav.EntityType, error)
	ResolveEffectiveAttributes(ctx context.Context, typeID string) ([]*eav.Attribute, error)
	ListGroups(ctx context.Context, typeID string) ([]*eav.AttributeGroup, error)

	Create(ctx context.Context, typeID string, values map[string]any, opts eav.CreateOptions) (*eav.EntityWithValues, error)
	ImportData(ctx context.Context, typeID string, values map[string]any, opts eav.CreateOptions) (*eav.EntityWithValues, error)
	Update(ctx context.Context, entityID string, values map[string]any, opts eav.UpdateOptions) (*eav.EntityWithValues, error)
	GetWithValues(ctx context.Context, entityID string) (*eav.EntityWithValues, error)
	Delete(ctx context.Context, entityID string) error
	Validate(ctx context.Context, entityID string) (eav.ValidationResult, error)
	Search(ctx context.Context, typeID string, req eav.SearchRequest) (*eav.SearchResult, error)
	Export(ctx context.Context, entityID string) (*eav.ExportDocument, error)
}

var _ Engine = (*eav.Engine)(nil)
