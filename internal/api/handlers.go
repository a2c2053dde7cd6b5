package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eavkit/internal/eav"
)

type createBody struct {
	Values         map[string]any `json:"values"`
	ExternalID     string         `json:"external_id"`
	Metadata       map[string]any `json:"metadata"`
	CreatedBy      string         `json:"created_by"`
	SkipValidation bool           `json:"skip_validation"`
}

func (b createBody) options() eav.CreateOptions {
	return eav.CreateOptions{
		ExternalID:     b.ExternalID,
		Metadata:       b.Metadata,
		CreatedBy:      b.CreatedBy,
		SkipValidation: b.SkipValidation,
	}
}

// resolveType — :type это id или имя типа.
func resolveType(c *gin.Context, eng Engine) (*eav.EntityType, bool) {
	t, err := eng.ResolveTypeRef(c.Request.Context(), c.Param("type"))
	if err != nil {
		abort(c, err)
		return nil, false
	}
	return t, true
}

// POST /api/types/:type/entities
func CreateHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := resolveType(c, eng)
		if !ok {
			return
		}
		var body createBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid JSON")
			return
		}
		out, err := eng.Create(c.Request.Context(), t.ID, body.Values, body.options())
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

// GET /api/types/:type/entities
func ListHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := resolveType(c, eng)
		if !ok {
			return
		}
		lp, err := parseListParams(c.Request.URL.Query())
		if err != nil {
			abort(c, err)
			return
		}
		res, err := eng.Search(c.Request.Context(), t.ID, eav.SearchRequest{
			Criteria:   lp.Criteria,
			Limit:      lp.Limit,
			Offset:     lp.Offset,
			WithValues: lp.WithValues,
		})
		if err != nil {
			abort(c, err)
			return
		}
		c.Header("X-Total-Count", strconv.FormatInt(res.Total, 10))
		c.JSON(http.StatusOK, res.Entities)
	}
}

type searchBody struct {
	Criteria   map[string]any `json:"criteria"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
	WithValues *bool          `json:"with_values"`
}

// POST /api/types/:type/search
func SearchHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := resolveType(c, eng)
		if !ok {
			return
		}
		var body searchBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid JSON")
			return
		}
		req := eav.SearchRequest{
			Criteria:   make(map[string]eav.Criterion, len(body.Criteria)),
			Limit:      body.Limit,
			Offset:     body.Offset,
			WithValues: body.WithValues == nil || *body.WithValues,
		}
		for name, raw := range body.Criteria {
			crit, err := eav.ParseCriterion(raw)
			if err != nil {
				abort(c, err)
				return
			}
			req.Criteria[name] = crit
		}
		res, err := eng.Search(c.Request.Context(), t.ID, req)
		if err != nil {
			abort(c, err)
			return
		}
		c.Header("X-Total-Count", strconv.FormatInt(res.Total, 10))
		c.JSON(http.StatusOK, res)
	}
}

// importBody совпадает по форме с документом экспорта; лишние поля игнорируются.
type importBody struct {
	Entity struct {
		ExternalID string         `json:"external_id"`
		Metadata   map[string]any `json:"metadata"`
		CreatedBy  string         `json:"created_by"`
	} `json:"entity"`
	Values map[string]struct {
		Value any `json:"value"`
	} `json:"values"`
}

// POST /api/types/:type/import
func ImportHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := resolveType(c, eng)
		if !ok {
			return
		}
		var body importBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid JSON")
			return
		}
		values := make(map[string]any, len(body.Values))
		for name, v := range body.Values {
			if v.Value != nil {
				values[name] = v.Value
			}
		}
		out, err := eng.ImportData(c.Request.Context(), t.ID, values, eav.CreateOptions{
			ExternalID: body.Entity.ExternalID,
			Metadata:   body.Entity.Metadata,
			CreatedBy:  body.Entity.CreatedBy,
		})
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

// GET /api/entities/:id
func GetOneHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := eng.GetWithValues(c.Request.Context(), c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// PATCH /api/entities/:id — тело: {"values": {...}}
func UpdateHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Values         map[string]any `json:"values"`
			SkipValidation bool           `json:"skip_validation"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid JSON")
			return
		}
		out, err := eng.Update(c.Request.Context(), c.Param("id"), body.Values, eav.UpdateOptions{SkipValidation: body.SkipValidation})
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// DELETE /api/entities/:id
func DeleteHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := eng.Delete(c.Request.Context(), c.Param("id")); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GET /api/entities/:id/validate
func ValidateHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := eng.Validate(c.Request.Context(), c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// GET /api/entities/:id/export
func ExportHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := eng.Export(c.Request.Context(), c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+doc.Entity.ID+`.json"`)
		c.IndentedJSON(http.StatusOK, doc)
	}
}

// GET /healthz
func HealthHandler(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := eng.Ping(c.Request.Context()); err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
