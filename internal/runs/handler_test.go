package runs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"runlog-backend/internal/bootstrap"
	"runlog-backend/internal/shared/config"
)

const handlerSchemaYAML = `groups:
  - name: General
    always_on: true
    variables:
      - name: Run ID
        type: integer
        required: true
        auto_increment: true
      - name: Operator
        type: select
        required: true
        options: [alice, bob]
  - name: Laser
    variables:
      - name: Power (W)
        type: float
        required: true
`

func buildTestApp(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	schemaPath := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(schemaPath, []byte(handlerSchemaYAML), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	cfg := config.Config{
		Port:            "0",
		Env:             "dev",
		CORSAllowOrigin: []string{"http://localhost:5173"},
		SchemaFile:      schemaPath,
		RunStore:        "memory",
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		t.Fatalf("bootstrap build: %v", err)
	}
	return app.Router
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestSubmitAndListRuns(t *testing.T) {
	router := buildTestApp(t)

	resp := postJSON(t, router, "/api/v1/runs", map[string]any{
		"values": map[string]string{
			"General - Operator": "alice",
			"Laser - Power (W)":  "2.5",
		},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var created struct {
		ID     string            `json:"id"`
		Seq    int64             `json:"seq"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected id, got empty")
	}
	if created.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", created.Seq)
	}
	if created.Fields["General - Run ID"] != "1" {
		t.Fatalf("expected auto-filled run id, got %q", created.Fields["General - Run ID"])
	}

	reqList := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	respList := httptest.NewRecorder()
	router.ServeHTTP(respList, reqList)

	if respList.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", respList.Code)
	}
	var listed []struct {
		Seq int64 `json:"seq"`
	}
	if err := json.NewDecoder(respList.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed) != 1 || listed[0].Seq != 1 {
		t.Fatalf("unexpected run list: %+v", listed)
	}
}

func TestListZeroLimitFallsBackToDefault(t *testing.T) {
	router := buildTestApp(t)

	for i := 0; i < 21; i++ {
		resp := postJSON(t, router, "/api/v1/runs", map[string]any{
			"values": map[string]string{
				"General - Operator": "alice",
				"Laser - Power (W)":  "1.0",
			},
		})
		if resp.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=0", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var listed []struct {
		Seq int64 `json:"seq"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed) != 20 {
		t.Fatalf("expected the default page of 20 runs, got %d", len(listed))
	}
	if listed[0].Seq != 21 {
		t.Fatalf("expected newest run first, got seq %d", listed[0].Seq)
	}
}

func TestSubmitValidationFailureReturns400(t *testing.T) {
	router := buildTestApp(t)

	resp := postJSON(t, router, "/api/v1/runs", map[string]any{
		"values": map[string]string{
			"General - Operator": "mallory",
		},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Missing []string          `json:"missing"`
				Invalid map[string]string `json:"invalid"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if envelope.Error.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", envelope.Error.Code)
	}
	if len(envelope.Error.Details.Missing) == 0 {
		t.Fatalf("expected missing fields in details")
	}
	if _, ok := envelope.Error.Details.Invalid["General - Operator"]; !ok {
		t.Fatalf("expected invalid entry for operator, got %+v", envelope.Error.Details.Invalid)
	}

	// Nothing was persisted.
	reqCount := httptest.NewRequest(http.MethodGet, "/api/v1/runs/count", nil)
	respCount := httptest.NewRecorder()
	router.ServeHTTP(respCount, reqCount)
	var count struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(respCount.Body).Decode(&count); err != nil {
		t.Fatalf("decode count response: %v", err)
	}
	if count.Count != 0 {
		t.Fatalf("expected 0 runs, got %d", count.Count)
	}
}

func TestNextSequenceAdvancesWithSubmissions(t *testing.T) {
	router := buildTestApp(t)

	checkNext := func(want int64) {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/next-seq", nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.Code)
		}
		var body struct {
			Next int64 `json:"next"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode next-seq response: %v", err)
		}
		if body.Next != want {
			t.Fatalf("expected next %d, got %d", want, body.Next)
		}
	}

	checkNext(1)

	resp := postJSON(t, router, "/api/v1/runs", map[string]any{
		"values": map[string]string{
			"General - Run ID":   "40",
			"General - Operator": "bob",
			"Laser - Power (W)":  "1.0",
		},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	checkNext(41)
}

func TestExportReturnsCSVAttachment(t *testing.T) {
	router := buildTestApp(t)

	resp := postJSON(t, router, "/api/v1/runs", map[string]any{
		"values": map[string]string{
			"General - Operator": "alice",
			"Laser - Power (W)":  "3.3",
		},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/export", nil)
	respExport := httptest.NewRecorder()
	router.ServeHTTP(respExport, req)

	if respExport.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", respExport.Code)
	}
	if got := respExport.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", got)
	}
	lines := strings.Split(strings.TrimSpace(respExport.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Timestamp,") {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "3.3") {
		t.Fatalf("expected exported power value, got %q", lines[1])
	}
}

func TestSeriesEndpointFiltersRows(t *testing.T) {
	router := buildTestApp(t)

	submit := func(operator, power string) {
		t.Helper()
		resp := postJSON(t, router, "/api/v1/runs", map[string]any{
			"values": map[string]string{
				"General - Operator": operator,
				"Laser - Power (W)":  power,
			},
		})
		if resp.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
		}
	}
	submit("alice", "1.0")
	submit("bob", "2.0")
	submit("alice", "3.0")

	url := "/api/v1/runs/series?x=General+-+Run+ID&y=Laser+-+Power+%28W%29&f.General+-+Operator=alice"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Points []struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"points"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode series response: %v", err)
	}
	if len(body.Points) != 2 {
		t.Fatalf("expected 2 points for alice, got %d", len(body.Points))
	}

	// A series without both axes is a client error.
	reqBad := httptest.NewRequest(http.MethodGet, "/api/v1/runs/series?x=General+-+Run+ID", nil)
	respBad := httptest.NewRecorder()
	router.ServeHTTP(respBad, reqBad)
	if respBad.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", respBad.Code)
	}
}
