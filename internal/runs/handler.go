package runs

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"runlog-backend/internal/shared/metrics"
	"runlog-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches run routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/schema", h.schema)
	rg.GET("/runs", h.list)
	rg.POST("/runs", h.submit)
	rg.GET("/runs/count", h.count)
	rg.GET("/runs/next-seq", h.nextSeq)
	rg.GET("/runs/series", h.series)
	rg.GET("/runs/export", h.export)
}

func (h *Handler) schema(c *gin.Context) {
	s := h.Svc.Schema
	groups := make([]gin.H, 0, len(s.Groups))
	for _, g := range s.Groups {
		vars := make([]gin.H, 0, len(g.Variables))
		for _, v := range g.Variables {
			vars = append(vars, gin.H{
				"name":          v.Name,
				"type":          v.EffectiveType(),
				"required":      v.Required,
				"default":       v.Default,
				"options":       v.Options,
				"autoIncrement": v.AutoIncrement,
			})
		}
		groups = append(groups, gin.H{
			"name":      g.Name,
			"alwaysOn":  g.AlwaysOn,
			"variables": vars,
		})
	}
	respond.OK(c, gin.H{
		"groups":         groups,
		"columns":        s.Columns(),
		"numericColumns": h.Svc.NumericColumns(),
	})
}

type submitRequest struct {
	ActiveGroups []string          `json:"activeGroups"`
	Values       map[string]string `json:"values"`
}

func (h *Handler) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	start := time.Now()
	rec, err := h.Svc.Submit(c.Request.Context(), SubmitInput{
		ActiveGroups: req.ActiveGroups,
		Values:       req.Values,
	})
	if err != nil {
		writeSubmitError(c, err)
		return
	}

	metrics.IncRunLogged()
	metrics.ObserveAppendDurationMs(float64(time.Since(start).Microseconds()) / 1000.0)
	respond.Created(c, toResponse(rec))
}

func writeSubmitError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		metrics.IncRunRejected()
		respond.Error(c, http.StatusBadRequest, "validation_error", verr.Error(), gin.H{
			"missing": verr.Missing,
			"invalid": verr.Invalid,
		})
	case errors.Is(err, ErrInvalidInput):
		metrics.IncRunRejected()
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrStoreUnavailable):
		metrics.IncStoreWriteFailed()
		respond.Error(c, http.StatusBadGateway, "store_error", "failed to write run to the configured store", nil)
	default:
		metrics.IncStoreWriteFailed()
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to record run", nil)
	}
}

func (h *Handler) list(c *gin.Context) {
	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		// Non-positive limits fall back to the default rather than
		// turning into an unbounded listing.
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 500 {
		limit = 500
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			offset = parsed
		}
	}

	recs, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusBadGateway, "store_error", "failed to load runs", nil)
		return
	}

	resp := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toResponse(rec))
	}
	respond.OK(c, resp)
}

func (h *Handler) count(c *gin.Context) {
	n, err := h.Svc.Count(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusBadGateway, "store_error", "failed to count runs", nil)
		return
	}
	respond.OK(c, gin.H{"count": n})
}

func (h *Handler) nextSeq(c *gin.Context) {
	next, err := h.Svc.NextSequence(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusBadGateway, "store_error", "failed to derive next sequence", nil)
		return
	}
	respond.OK(c, gin.H{"next": next})
}

func (h *Handler) series(c *gin.Context) {
	xCol := c.Query("x")
	yCol := c.Query("y")
	sizeCol := c.Query("size")

	filters := make(map[string]string)
	for key, vals := range c.Request.URL.Query() {
		if !strings.HasPrefix(key, "f.") || len(vals) == 0 {
			continue
		}
		filters[strings.TrimPrefix(key, "f.")] = vals[0]
	}

	points, err := h.Svc.Series(c.Request.Context(), xCol, yCol, sizeCol, filters)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusBadGateway, "store_error", "failed to load series", nil)
		return
	}
	respond.OK(c, gin.H{"x": xCol, "y": yCol, "size": sizeCol, "points": points})
}

func (h *Handler) export(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.Svc.ExportCSV(c.Request.Context(), &buf); err != nil {
		respond.Error(c, http.StatusBadGateway, "store_error", "failed to export runs", nil)
		return
	}

	fileName := fmt.Sprintf("experiment_log_%s.csv", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

func toResponse(rec Record) gin.H {
	return gin.H{
		"id":         rec.ID,
		"seq":        rec.Seq,
		"recordedAt": rec.RecordedAt,
		"fields":     rec.Fields,
	}
}
