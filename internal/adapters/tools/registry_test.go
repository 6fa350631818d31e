package tools

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-engine/internal/core/domain"
)

const registryYAML = `
tools:
  - name: order_status
    description: Look up an order by number
    url: %URL%/orders
    headers:
      Authorization: "Bearer ${TEST_ORDER_TOKEN}"
    timeout: 2s
    projects: [p1]
    parameters:
      type: object
      properties:
        orderNumber: {type: string}
      required: [orderNumber]
  - name: store_hours
    description: Opening hours
    url: %URL%/hours
    method: get
`

func parseRegistry(t *testing.T, url string) *Registry {
	t.Helper()
	r, err := Parse([]byte(strings.ReplaceAll(registryYAML, "%URL%", url)))
	require.NoError(t, err)
	return r
}

// TestParse_DefinitionsPerProject tests project filtering and schema encoding
func TestParse_DefinitionsPerProject(t *testing.T) {
	r := parseRegistry(t, "http://tools.local")
	assert.Equal(t, 2, r.Len())

	defs := r.Definitions(context.Background(), "p1")
	require.Len(t, defs, 2)
	assert.Equal(t, "order_status", defs[0].Name)
	assert.JSONEq(t,
		`{"type":"object","properties":{"orderNumber":{"type":"string"}},"required":["orderNumber"]}`,
		string(defs[0].Parameters))
	assert.Equal(t, "store_hours", defs[1].Name)
	assert.Empty(t, defs[1].Parameters)

	other := r.Definitions(context.Background(), "p2")
	require.Len(t, other, 1)
	assert.Equal(t, "store_hours", other[0].Name)
}

// TestExecute_CallsWebhook tests headers, body and result passthrough
func TestExecute_CallsWebhook(t *testing.T) {
	t.Setenv("TEST_ORDER_TOKEN", "tok-123")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			assert.Equal(t, "p1", r.Header.Get("X-Project-ID"))
			assert.Equal(t, "call-7", r.Header.Get("X-Tool-Call-ID"))
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"orderNumber":"42"}`, string(body))
			w.Write([]byte(`{"status":"shipped"}`))
		case "/hours":
			assert.Equal(t, http.MethodGet, r.Method)
			w.Write([]byte("9 to 5"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	r := parseRegistry(t, server.URL)
	ctx := context.Background()

	out, err := r.Execute(ctx, "p1", domain.ToolCall{ID: "call-7", Name: "order_status", Arguments: `{"orderNumber":"42"}`})
	require.NoError(t, err)
	assert.Equal(t, `{"status":"shipped"}`, out)

	out, err = r.Execute(ctx, "p2", domain.ToolCall{ID: "call-8", Name: "store_hours"})
	require.NoError(t, err)
	assert.Equal(t, "9 to 5", out)
}

// TestExecute_Errors tests unknown tools, bad arguments and failing webhooks
func TestExecute_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer server.Close()

	r := parseRegistry(t, server.URL)
	ctx := context.Background()

	_, err := r.Execute(ctx, "p1", domain.ToolCall{Name: "delete_everything"})
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = r.Execute(ctx, "p2", domain.ToolCall{Name: "order_status", Arguments: `{}`})
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = r.Execute(ctx, "p1", domain.ToolCall{Name: "order_status", Arguments: `{not json`})
	assert.ErrorContains(t, err, "not JSON")

	_, err = r.Execute(ctx, "p1", domain.ToolCall{Name: "order_status", Arguments: `{}`})
	assert.ErrorContains(t, err, "returned 502")
}

// TestNew_Validation tests registry declaration errors
func TestNew_Validation(t *testing.T) {
	_, err := New([]Spec{{Name: "no_url"}})
	assert.Error(t, err)

	_, err = New([]Spec{{Name: "a", URL: "http://x"}, {Name: "a", URL: "http://y"}})
	assert.ErrorContains(t, err, "declared twice")

	_, err = New([]Spec{{Name: "a", URL: "http://x", TimeoutRaw: "soon"}})
	assert.ErrorContains(t, err, "parsing timeout")
}

// TestLoad_File tests reading the registry from disk
func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(registryYAML, "%URL%", "http://tools.local")), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
