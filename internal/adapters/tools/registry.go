// Package tools exposes HTTP webhook tools declared in a YAML file
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"handoff-engine/internal/core/domain"
)

// ErrUnknownTool is returned for a call to a tool the project may not use
var ErrUnknownTool = errors.New("unknown tool")

const (
	defaultToolTimeout = 10 * time.Second
	maxResultBytes     = 8 << 10
)

// File is the on-disk registry layout:
//
//	tools:
//	  - name: order_status
//	    description: Look up an order by number
//	    url: https://shop.example.com/hooks/order-status
//	    headers: {Authorization: "Bearer ${ORDER_API_TOKEN}"}
//	    timeout: 5s
//	    projects: [proj-1]
//	    parameters:
//	      type: object
//	      properties: {orderNumber: {type: string}}
type File struct {
	Tools []Spec `yaml:"tools"`
}

// Spec declares one webhook tool
type Spec struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	URL         string            `yaml:"url"`
	Method      string            `yaml:"method"`
	Headers     map[string]string `yaml:"headers"`
	TimeoutRaw  string            `yaml:"timeout"`
	Projects    []string          `yaml:"projects"` // empty: every project
	Parameters  map[string]any    `yaml:"parameters"`

	timeout time.Duration
	schema  json.RawMessage
}

func (s *Spec) allows(projectID string) bool {
	if len(s.Projects) == 0 {
		return true
	}
	for _, p := range s.Projects {
		if p == projectID {
			return true
		}
	}
	return false
}

// Registry implements ports.ToolExecutor
type Registry struct {
	specs      map[string]*Spec
	order      []string
	httpClient *http.Client
}

// Load reads a registry file. ${VAR} references are expanded from the environment.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool registry: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML content
func Parse(data []byte) (*Registry, error) {
	var file File
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &file); err != nil {
		return nil, fmt.Errorf("parsing tool registry: %w", err)
	}
	return New(file.Tools)
}

// New validates specs and builds a registry
func New(specs []Spec) (*Registry, error) {
	r := &Registry{
		specs:      make(map[string]*Spec, len(specs)),
		httpClient: &http.Client{},
	}

	for i := range specs {
		s := specs[i]
		if s.Name == "" || s.URL == "" {
			return nil, fmt.Errorf("tool %d: name and url are required", i)
		}
		if _, dup := r.specs[s.Name]; dup {
			return nil, fmt.Errorf("tool %s: declared twice", s.Name)
		}
		if s.Method == "" {
			s.Method = http.MethodPost
		}
		s.Method = strings.ToUpper(s.Method)

		s.timeout = defaultToolTimeout
		if s.TimeoutRaw != "" {
			d, err := time.ParseDuration(s.TimeoutRaw)
			if err != nil {
				return nil, fmt.Errorf("tool %s: parsing timeout %q: %w", s.Name, s.TimeoutRaw, err)
			}
			s.timeout = d
		}

		if len(s.Parameters) > 0 {
			schema, err := json.Marshal(s.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %s: encoding parameters: %w", s.Name, err)
			}
			s.schema = schema
		}

		r.specs[s.Name] = &s
		r.order = append(r.order, s.Name)
	}
	sort.Strings(r.order)
	return r, nil
}

// Len returns the number of declared tools
func (r *Registry) Len() int {
	return len(r.specs)
}

// Definitions returns the tools available to projectID
func (r *Registry) Definitions(ctx context.Context, projectID string) []domain.ToolDefinition {
	var defs []domain.ToolDefinition
	for _, name := range r.order {
		s := r.specs[name]
		if !s.allows(projectID) {
			continue
		}
		defs = append(defs, domain.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.schema,
		})
	}
	return defs
}

// Execute calls the tool's webhook with the call arguments as the JSON body
// and returns the response body as the result.
func (r *Registry) Execute(ctx context.Context, projectID string, call domain.ToolCall) (string, error) {
	s, ok := r.specs[call.Name]
	if !ok || !s.allows(projectID) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return "", fmt.Errorf("invalid arguments for %s: not JSON", call.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, bytes.NewBufferString(args))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Project-ID", projectID)
	req.Header.Set("X-Tool-Call-ID", call.ID)
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tool %s request failed: %w", call.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("tool %s returned %d: %s", call.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value, or "" when unset
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}
