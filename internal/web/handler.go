package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"runlog-backend/internal/runs"
	"runlog-backend/internal/schema"
	"runlog-backend/internal/shared/metrics"
	"runlog-backend/internal/shared/telemetry"
)

const (
	activeGroupsCookie = "active_groups"
	lastValuesCookie   = "last_values"
	flashCookie        = "flash"

	cookieMaxAge = 90 * 24 * 60 * 60 // 90 days

	recentRunsLimit = 20
)

// Handler serves the browser UI: the run entry form and the chart view.
type Handler struct {
	Svc *runs.Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *runs.Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches the UI routes at the engine root.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.formPage)
	r.POST("/runs", h.submitForm)
	r.POST("/groups", h.updateGroups)
	r.POST("/reset", h.resetForm)
	r.GET("/chart", h.chartPage)
}

type groupView struct {
	Name      string
	AlwaysOn  bool
	Active    bool
	Variables []variableView
}

type variableView struct {
	Name     string
	Column   string
	Type     string
	Required bool
	Options  []string
	Value    string
	Auto     bool
}

func (h *Handler) formPage(c *gin.Context) {
	active := h.activeGroups(c)
	values := h.stickyValues(c)

	nextSeq, err := h.Svc.NextSequence(c.Request.Context())
	if err != nil {
		telemetry.Warn("form.next_seq", map[string]any{"error": err.Error()})
		nextSeq = 0
	}
	autoCol := h.Svc.Schema.AutoIncrementColumn()

	groups := make([]groupView, 0, len(h.Svc.Schema.Groups))
	for _, g := range h.Svc.Schema.Groups {
		gv := groupView{
			Name:     g.Name,
			AlwaysOn: g.AlwaysOn,
			Active:   g.AlwaysOn || active[g.Name],
		}
		for _, v := range g.Variables {
			col := schema.ColumnName(g.Name, v.Name)
			val, ok := values[col]
			if !ok {
				val = v.Default
			}
			if v.AutoIncrement && nextSeq > 0 {
				val = strconv.FormatInt(nextSeq, 10)
			}
			gv.Variables = append(gv.Variables, variableView{
				Name:     v.Name,
				Column:   col,
				Type:     v.EffectiveType(),
				Required: v.Required,
				Options:  v.Options,
				Value:    val,
				Auto:     v.AutoIncrement,
			})
		}
		groups = append(groups, gv)
	}

	count, err := h.Svc.Count(c.Request.Context())
	countKnown := err == nil
	if err != nil {
		telemetry.Warn("form.count", map[string]any{"error": err.Error()})
	}

	flashKind, flashMsg := h.takeFlash(c)
	recentCols, recentRows := h.recentRuns(c)

	c.HTML(http.StatusOK, "form.tmpl", gin.H{
		"Groups":        groups,
		"Count":         count,
		"CountKnown":    countKnown,
		"FlashKind":     flashKind,
		"FlashMsg":      flashMsg,
		"HasAuto":       autoCol != "",
		"RecentColumns": recentCols,
		"RecentRows":    recentRows,
	})
}

// recentRuns returns the last few runs newest-first, aligned to the
// store's header, for the table under the entry form.
func (h *Handler) recentRuns(c *gin.Context) ([]string, [][]string) {
	recs, err := h.Svc.List(c.Request.Context(), recentRunsLimit, 0)
	if err != nil {
		telemetry.Warn("form.recent_runs", map[string]any{"error": err.Error()})
		return nil, nil
	}
	if len(recs) == 0 {
		return nil, nil
	}
	cols, err := h.Svc.Columns(c.Request.Context())
	if err != nil {
		telemetry.Warn("form.recent_runs", map[string]any{"error": err.Error()})
		return nil, nil
	}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		row := make([]string, len(cols))
		for i, col := range cols {
			row[i] = rec.Fields[col]
		}
		rows = append(rows, row)
	}
	return cols, rows
}

func (h *Handler) submitForm(c *gin.Context) {
	active := h.activeGroups(c)

	values := make(map[string]string)
	for _, g := range h.Svc.Schema.Groups {
		if !g.AlwaysOn && !active[g.Name] {
			continue
		}
		for _, v := range g.Variables {
			col := schema.ColumnName(g.Name, v.Name)
			values[col] = c.PostForm(col)
		}
	}

	// Keep entered values sticky across the redirect, success or not.
	h.saveStickyValues(c, values)

	start := time.Now()
	rec, err := h.Svc.Submit(c.Request.Context(), runs.SubmitInput{
		ActiveGroups: activeGroupNames(active),
		Values:       values,
	})
	if err != nil {
		var verr *runs.ValidationError
		switch {
		case errors.As(err, &verr):
			metrics.IncRunRejected()
			h.setFlash(c, "error", "Submission rejected: "+verr.Error())
		case errors.Is(err, runs.ErrStoreUnavailable):
			metrics.IncStoreWriteFailed()
			h.setFlash(c, "error", "Failed to write to the configured store. The run was not recorded.")
		default:
			metrics.IncStoreWriteFailed()
			h.setFlash(c, "error", "Unexpected error while recording the run.")
		}
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	metrics.IncRunLogged()
	metrics.ObserveAppendDurationMs(float64(time.Since(start).Microseconds()) / 1000.0)
	c.Set("runId", rec.ID)
	c.Set("runSeq", rec.Seq)

	msg := "Run logged at " + rec.RecordedAt.Format(time.RFC3339)
	if rec.Seq > 0 {
		msg = "Run " + strconv.FormatInt(rec.Seq, 10) + " logged at " + rec.RecordedAt.Format(time.RFC3339)
	}
	h.setFlash(c, "success", msg)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) updateGroups(c *gin.Context) {
	selected := c.PostFormArray("group")
	// Only known non-always-on groups are persisted.
	var keep []string
	for _, g := range h.Svc.Schema.Groups {
		if g.AlwaysOn {
			continue
		}
		for _, name := range selected {
			if name == g.Name {
				keep = append(keep, g.Name)
				break
			}
		}
	}
	h.setCookie(c, activeGroupsCookie, strings.Join(keep, "|"))
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) resetForm(c *gin.Context) {
	h.clearCookie(c, lastValuesCookie)
	h.setFlash(c, "success", "Fields reset to defaults.")
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) chartPage(c *gin.Context) {
	numeric := h.Svc.NumericColumns()

	type filterView struct {
		Column  string
		Options []string
	}
	var filters []filterView
	for _, g := range h.Svc.Schema.Groups {
		for _, v := range g.Variables {
			if v.EffectiveType() == schema.TypeSelect {
				filters = append(filters, filterView{
					Column:  schema.ColumnName(g.Name, v.Name),
					Options: v.Options,
				})
			}
		}
	}

	c.HTML(http.StatusOK, "chart.tmpl", gin.H{
		"NumericColumns": numeric,
		"Filters":        filters,
	})
}

// activeGroups resolves the non-always-on group toggles from the cookie.
// Without a cookie every group is active.
func (h *Handler) activeGroups(c *gin.Context) map[string]bool {
	active := make(map[string]bool)
	raw, err := c.Cookie(activeGroupsCookie)
	if err != nil {
		for _, g := range h.Svc.Schema.Groups {
			active[g.Name] = true
		}
		return active
	}
	for _, name := range strings.Split(raw, "|") {
		if name != "" {
			active[name] = true
		}
	}
	return active
}

func activeGroupNames(active map[string]bool) []string {
	names := make([]string, 0, len(active))
	for name, on := range active {
		if on {
			names = append(names, name)
		}
	}
	return names
}

func (h *Handler) stickyValues(c *gin.Context) map[string]string {
	raw, err := c.Cookie(lastValuesCookie)
	if err != nil {
		return nil
	}
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var values map[string]string
	if err := json.Unmarshal(decoded, &values); err != nil {
		return nil
	}
	return values
}

func (h *Handler) saveStickyValues(c *gin.Context, values map[string]string) {
	data, err := json.Marshal(values)
	if err != nil {
		return
	}
	h.setCookie(c, lastValuesCookie, base64.URLEncoding.EncodeToString(data))
}

func (h *Handler) setFlash(c *gin.Context, kind, msg string) {
	h.setCookie(c, flashCookie, base64.URLEncoding.EncodeToString([]byte(kind+"|"+msg)))
}

func (h *Handler) takeFlash(c *gin.Context) (kind, msg string) {
	raw, err := c.Cookie(flashCookie)
	if err != nil {
		return "", ""
	}
	c.SetCookie(flashCookie, "", -1, "/", "", false, true)
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return "", ""
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func (h *Handler) setCookie(c *gin.Context, name, value string) {
	c.SetCookie(name, value, cookieMaxAge, "/", "", false, true)
}

func (h *Handler) clearCookie(c *gin.Context, name string) {
	c.SetCookie(name, "", -1, "/", "", false, true)
}
