package eav

import (
	"context"
)

func (e *Engine) CreateEntityType(ctx context.Context, def EntityTypeDefinition) (*EntityType, error) {
	var out *EntityType
	err := e.run(ctx, "create entity type", writeTxOptions, true, func(ctx context.Context, s *session) error {
		t, err := s.schema.createType(ctx, def)
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infow("Entity type created", "entity_type_id", out.ID, "name", out.Name, "parent_id", out.ParentID)
	return out, nil
}

func (e *Engine) GetEntityType(ctx context.Context, id string) (*EntityType, error) {
	var out *EntityType
	err := e.run(ctx, "get entity type", readTxOptions, false, func(ctx context.Context, s *session) error {
		t, err := s.schema.getType(ctx, id)
		out = t
		return err
	})
	return out, err
}

func (e *Engine) GetEntityTypeByName(ctx context.Context, name string) (*EntityType, error) {
	var out *EntityType
	err := e.run(ctx, "get entity type", readTxOptions, false, func(ctx context.Context, s *session) error {
		t, err := s.schema.getTypeByName(ctx, name)
		out = t
		return err
	})
	return out, err
}

// ResolveTypeRef принимает id или имя типа.
func (e *Engine) ResolveTypeRef(ctx context.Context, ref string) (*EntityType, error) {
	if err := ensureID("entity type", ref); err != nil {
		return nil, err
	}
	var out *EntityType
	err := e.run(ctx, "resolve entity type", readTxOptions, false, func(ctx context.Context, s *session) error {
		ix, err := s.index(ctx)
		if err != nil {
			return err
		}
		if t, ok := ix[ref]; ok {
			out = t
			return nil
		}
		for _, t := range ix {
			if t.Name == ref {
				out = t
				return nil
			}
		}
		return notFound("entity type", ref)
	})
	return out, err
}

func (e *Engine) ListEntityTypes(ctx context.Context) ([]*EntityType, error) {
	var out []*EntityType
	err := e.run(ctx, "list entity types", readTxOptions, false, func(ctx context.Context, s *session) error {
		list, err := s.schema.listTypes(ctx)
		out = list
		return err
	})
	return out, err
}

// SetParent перевешивает тип; parentID == "" делает его корнем.
func (e *Engine) SetParent(ctx context.Context, id, parentID string) error {
	err := e.run(ctx, "set parent", writeTxOptions, true, func(ctx context.Context, s *session) error {
		return s.schema.setParent(ctx, id, parentID)
	})
	if err == nil {
		e.logger.Infow("Entity type re-parented", "entity_type_id", id, "parent_id", parentID)
	}
	return err
}

func (e *Engine) DeleteEntityType(ctx context.Context, id string) error {
	err := e.run(ctx, "delete entity type", writeTxOptions, true, func(ctx context.Context, s *session) error {
		return s.schema.deleteType(ctx, id)
	})
	if err == nil {
		e.logger.Infow("Entity type deleted", "entity_type_id", id)
	}
	return err
}

// ResolveHierarchy — тип и все предки, начиная с самого типа.
func (e *Engine) ResolveHierarchy(ctx context.Context, typeID string) ([]*EntityType, error) {
	var out []*EntityType
	err := e.run(ctx, "resolve hierarchy", readTxOptions, false, func(ctx context.Context, s *session) error {
		ix, err := s.index(ctx)
		if err != nil {
			return err
		}
		out, err = ix.chain(typeID, e.opts.MaxDepth)
		return err
	})
	return out, err
}

// ResolveEffectiveAttributes — собственные и унаследованные атрибуты типа.
func (e *Engine) ResolveEffectiveAttributes(ctx context.Context, typeID string) ([]*Attribute, error) {
	var out []*Attribute
	err := e.run(ctx, "resolve attributes", readTxOptions, false, func(ctx context.Context, s *session) error {
		attrs, err := s.effective(ctx, typeID)
		out = attrs
		return err
	})
	return out, err
}

func (e *Engine) CreateAttribute(ctx context.Context, typeID string, def AttributeDefinition) (*Attribute, error) {
	var out *Attribute
	err := e.run(ctx, "create attribute", writeTxOptions, true, func(ctx context.Context, s *session) error {
		a, err := s.schema.createAttribute(ctx, typeID, def)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infow("Attribute created",
		"attribute_id", out.ID, "entity_type_id", typeID, "name", out.Name, "data_type", out.DataType)
	return out, nil
}

func (e *Engine) GetAttribute(ctx context.Context, id string) (*Attribute, error) {
	var out *Attribute
	err := e.run(ctx, "get attribute", readTxOptions, false, func(ctx context.Context, s *session) error {
		a, err := s.schema.getAttribute(ctx, id)
		out = a
		return err
	})
	return out, err
}

// ListAttributes — только собственные атрибуты типа (без унаследованных).
func (e *Engine) ListAttributes(ctx context.Context, typeID string) ([]*Attribute, error) {
	var out []*Attribute
	err := e.run(ctx, "list attributes", readTxOptions, false, func(ctx context.Context, s *session) error {
		if _, err := s.schema.getType(ctx, typeID); err != nil {
			return err
		}
		own, err := s.schema.ownAttributesOf(ctx, []string{typeID})
		out = own[typeID]
		return err
	})
	return out, err
}

// DeleteAttribute — мягкое удаление; с живыми значениями только при force.
func (e *Engine) DeleteAttribute(ctx context.Context, id string, force bool) error {
	var cascaded int64
	err := e.run(ctx, "delete attribute", writeTxOptions, true, func(ctx context.Context, s *session) error {
		n, err := s.schema.deleteAttribute(ctx, id, force)
		cascaded = n
		return err
	})
	if err == nil {
		e.logger.Infow("Attribute deleted", "attribute_id", id, "force", force, "values_deleted", cascaded)
	}
	return err
}

func (e *Engine) CreateAttributeGroup(ctx context.Context, typeID, name, displayName string, sortOrder int) (*AttributeGroup, error) {
	var out *AttributeGroup
	err := e.run(ctx, "create attribute group", writeTxOptions, true, func(ctx context.Context, s *session) error {
		g, err := s.schema.createGroup(ctx, typeID, name, displayName, sortOrder)
		out = g
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infow("Attribute group created", "group_id", out.ID, "entity_type_id", typeID, "name", out.Name)
	return out, nil
}

func (e *Engine) ListGroups(ctx context.Context, typeID string) ([]*AttributeGroup, error) {
	var out []*AttributeGroup
	err := e.run(ctx, "list attribute groups", readTxOptions, false, func(ctx context.Context, s *session) error {
		list, err := s.schema.listGroups(ctx, typeID)
		out = list
		return err
	})
	return out, err
}
