package web_test

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"runlog-backend/internal/bootstrap"
	"runlog-backend/internal/shared/config"
)

const webSchemaYAML = `groups:
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

func buildWebApp(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	schemaPath := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(schemaPath, []byte(webSchemaYAML), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	app, err := bootstrap.Build(config.Config{
		Port:            "0",
		Env:             "dev",
		CORSAllowOrigin: []string{"http://localhost:5173"},
		SchemaFile:      schemaPath,
		RunStore:        "memory",
	})
	if err != nil {
		t.Fatalf("bootstrap build: %v", err)
	}
	return app.Router
}

func postForm(router *gin.Engine, path string, form url.Values, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func flashCookieValue(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	for _, ck := range resp.Result().Cookies() {
		if ck.Name == "flash" && ck.Value != "" {
			decoded, err := base64.URLEncoding.DecodeString(ck.Value)
			if err != nil {
				t.Fatalf("decode flash cookie: %v", err)
			}
			return string(decoded)
		}
	}
	return ""
}

func TestFormPageRendersSchemaFields(t *testing.T) {
	router := buildWebApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, want := range []string{"General", "Laser", "General - Operator", "Laser - Power (W)", "alice", "bob"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected page to contain %q", want)
		}
	}
	// The auto-increment field is prefilled with the next sequence.
	if !strings.Contains(body, `value="1"`) {
		t.Fatalf("expected next run id 1 in form")
	}
}

func TestFormPageListsRecentRunsNewestFirst(t *testing.T) {
	router := buildWebApp(t)

	submit := func(operator string) {
		t.Helper()
		resp := postForm(router, "/runs", url.Values{
			"General - Operator": {operator},
			"Laser - Power (W)":  {"1.0"},
		}, nil)
		if resp.Code != http.StatusSeeOther {
			t.Fatalf("expected redirect, got %d", resp.Code)
		}
	}
	submit("alice")
	submit("bob")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	body := resp.Body.String()
	if !strings.Contains(body, "Recent Runs") {
		t.Fatalf("expected recent runs section")
	}
	idxBob := strings.Index(body, "<td>bob</td>")
	idxAlice := strings.Index(body, "<td>alice</td>")
	if idxBob < 0 || idxAlice < 0 {
		t.Fatalf("expected both runs in the table, got bob=%d alice=%d", idxBob, idxAlice)
	}
	if idxBob > idxAlice {
		t.Fatalf("expected newest run first in the table")
	}
}

func TestSubmitFormRedirectsWithSuccessFlash(t *testing.T) {
	router := buildWebApp(t)

	resp := postForm(router, "/runs", url.Values{
		"General - Run ID":   {""},
		"General - Operator": {"alice"},
		"Laser - Power (W)":  {"2.5"},
	}, nil)

	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", resp.Code)
	}
	if loc := resp.Header().Get("Location"); loc != "/" {
		t.Fatalf("expected redirect to /, got %q", loc)
	}
	flash := flashCookieValue(t, resp)
	if !strings.HasPrefix(flash, "success|Run 1 logged") {
		t.Fatalf("unexpected flash %q", flash)
	}
}

func TestSubmitFormRejectionKeepsValuesSticky(t *testing.T) {
	router := buildWebApp(t)

	resp := postForm(router, "/runs", url.Values{
		"General - Operator": {"alice"},
		"Laser - Power (W)":  {"not a number"},
	}, nil)

	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", resp.Code)
	}
	flash := flashCookieValue(t, resp)
	if !strings.HasPrefix(flash, "error|") {
		t.Fatalf("expected error flash, got %q", flash)
	}

	// Re-render the form with the cookies from the rejected submission:
	// the bad value comes back and the flash shows once.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range resp.Result().Cookies() {
		if ck.Value != "" {
			req.AddCookie(ck)
		}
	}
	respGet := httptest.NewRecorder()
	router.ServeHTTP(respGet, req)

	body := respGet.Body.String()
	if !strings.Contains(body, "not a number") {
		t.Fatalf("expected sticky value in re-rendered form")
	}
	if !strings.Contains(body, "Submission rejected") {
		t.Fatalf("expected flash message in page")
	}

	// The flash cookie is cleared on read.
	cleared := false
	for _, ck := range respGet.Result().Cookies() {
		if ck.Name == "flash" && ck.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected flash cookie cleared after render")
	}
}

func TestGroupTogglesSkipValidationForInactiveGroups(t *testing.T) {
	router := buildWebApp(t)

	// Deselect every optional group.
	respGroups := postForm(router, "/groups", url.Values{}, nil)
	if respGroups.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", respGroups.Code)
	}
	var groupCookie *http.Cookie
	for _, ck := range respGroups.Result().Cookies() {
		if ck.Name == "active_groups" {
			groupCookie = ck
		}
	}
	if groupCookie == nil {
		t.Fatalf("expected active_groups cookie")
	}

	// Laser is inactive, so its required Power passes unset.
	resp := postForm(router, "/runs", url.Values{
		"General - Operator": {"bob"},
	}, []*http.Cookie{groupCookie})

	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", resp.Code)
	}
	flash := flashCookieValue(t, resp)
	if !strings.HasPrefix(flash, "success|") {
		t.Fatalf("expected success flash, got %q", flash)
	}
}

func TestResetClearsStickyValues(t *testing.T) {
	router := buildWebApp(t)

	resp := postForm(router, "/reset", url.Values{}, nil)
	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", resp.Code)
	}

	cleared := false
	for _, ck := range resp.Result().Cookies() {
		if ck.Name == "last_values" && ck.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected last_values cookie cleared")
	}
}

func TestChartPageListsNumericColumns(t *testing.T) {
	router := buildWebApp(t)

	req := httptest.NewRequest(http.MethodGet, "/chart", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	if !strings.Contains(body, "Laser - Power (W)") {
		t.Fatalf("expected numeric column option in chart page")
	}
	if !strings.Contains(body, "General - Operator") {
		t.Fatalf("expected select filter column in chart page")
	}
}
