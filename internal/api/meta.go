package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"eavkit/internal/eav"
)

// ===== META HANDLERS =====

type metaTypeListItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	ParentID    string `json:"parent_id,omitempty"`
	IsAbstract  bool   `json:"is_abstract"`
}

// GET /api/meta/types
func MetaListHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		types, err := eng.ListEntityTypes(c.Request.Context())
		if err != nil {
			abort(c, err)
			return
		}
		out := make([]metaTypeListItem, 0, len(types))
		for _, t := range types {
			out = append(out, metaTypeListItem{
				ID:          t.ID,
				Name:        t.Name,
				DisplayName: t.DisplayName,
				ParentID:    t.ParentID,
				IsAbstract:  t.IsAbstract,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaGroup struct {
	*eav.AttributeGroup
	Attributes []string `json:"attributes"`
}

type metaEntityType struct {
	*eav.EntityType
	Hierarchy  []string         `json:"hierarchy"` // имена от типа к корню
	Attributes []*eav.Attribute `json:"attributes"`
	Groups     []metaGroup      `json:"groups"`
}

// GET /api/meta/types/:type — тип, цепочка предков, эффективные атрибуты и группы.
func MetaTypeHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		t, ok := resolveType(c, eng)
		if !ok {
			return
		}
		chain, err := eng.ResolveHierarchy(ctx, t.ID)
		if err != nil {
			abort(c, err)
			return
		}
		attrs, err := eng.ResolveEffectiveAttributes(ctx, t.ID)
		if err != nil {
			abort(c, err)
			return
		}
		resp := metaEntityType{EntityType: t, Attributes: attrs, Groups: []metaGroup{}}
		for _, p := range chain {
			resp.Hierarchy = append(resp.Hierarchy, p.Name)
		}

		// группы всех типов цепочки: атрибут лежит в группе своего типа
		for _, p := range chain {
			groups, err := eng.ListGroups(ctx, p.ID)
			if err != nil {
				abort(c, err)
				return
			}
			for _, g := range groups {
				mg := metaGroup{AttributeGroup: g, Attributes: []string{}}
				for _, a := range attrs {
					if a.GroupID == g.ID {
						mg.Attributes = append(mg.Attributes, a.Name)
					}
				}
				resp.Groups = append(resp.Groups, mg)
			}
		}
		sort.SliceStable(resp.Groups, func(i, j int) bool {
			return resp.Groups[i].SortOrder < resp.Groups[j].SortOrder
		})
		c.JSON(http.StatusOK, resp)
	}
}
