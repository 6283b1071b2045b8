package fhir

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// SearchParam describes a search parameter advertised for a resource type.
type SearchParam struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Documentation string `json:"documentation,omitempty"`
}

// capabilityResource accumulates the registrations for one resource type.
// Interactions and params keep insertion order; the sets guard against
// duplicates when a type is registered more than once.
type capabilityResource struct {
	interactions []string
	params       []SearchParam
	hasInter     map[string]bool
	hasParam     map[string]bool
}

func newCapabilityResource() *capabilityResource {
	return &capabilityResource{
		hasInter: make(map[string]bool),
		hasParam: make(map[string]bool),
	}
}

func (r *capabilityResource) merge(interactions []string, params []SearchParam) {
	for _, code := range interactions {
		if r.hasInter[code] {
			continue
		}
		r.hasInter[code] = true
		r.interactions = append(r.interactions, code)
	}
	for _, p := range params {
		if r.hasParam[p.Name] {
			continue
		}
		r.hasParam[p.Name] = true
		r.params = append(r.params, p)
	}
}

// statement renders the rest.resource entry for this type.
func (r *capabilityResource) statement(resourceType string) map[string]interface{} {
	out := map[string]interface{}{
		"type":       resourceType,
		"versioning": "versioned",
	}
	if len(r.interactions) > 0 {
		codes := make([]map[string]string, len(r.interactions))
		for i, code := range r.interactions {
			codes[i] = map[string]string{"code": code}
		}
		out["interaction"] = codes
	}
	if len(r.params) > 0 {
		params := make([]map[string]string, len(r.params))
		for i, sp := range r.params {
			entry := map[string]string{"name": sp.Name, "type": sp.Type}
			if sp.Documentation != "" {
				entry["documentation"] = sp.Documentation
			}
			params[i] = entry
		}
		out["searchParam"] = params
	}
	return out
}

// CapabilityBuilder accumulates resource registrations from domain modules
// and builds the server CapabilityStatement. Domains call AddResource during
// server initialization so the /fhir/metadata response reflects only what is
// actually served.
type CapabilityBuilder struct {
	mu        sync.RWMutex
	resources map[string]*capabilityResource

	serverName    string
	description   string
	serverVersion string
	baseURL       string
}

// NewCapabilityBuilder creates a new builder. The baseURL is the FHIR base
// URL (e.g. "http://localhost:8080/fhir") and version is the server software
// version.
func NewCapabilityBuilder(baseURL, version string) *CapabilityBuilder {
	return &CapabilityBuilder{
		resources:     make(map[string]*capabilityResource),
		serverName:    "fhir-portal",
		description:   "FHIR R4 patient demographics service",
		serverVersion: version,
		baseURL:       baseURL,
	}
}

// SetServerInfo overrides the software name and implementation description.
func (b *CapabilityBuilder) SetServerInfo(name, description string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name != "" {
		b.serverName = name
	}
	if description != "" {
		b.description = description
	}
}

// AddResource registers a resource type with its interactions and search
// parameters. Registering the same type again merges into the existing
// entry, so wiring code can contribute capabilities piecemeal.
func (b *CapabilityBuilder) AddResource(resourceType string, interactions []string, searchParams []SearchParam) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.resources[resourceType]
	if !ok {
		entry = newCapabilityResource()
		b.resources[resourceType] = entry
	}
	entry.merge(interactions, searchParams)
}

// Build constructs the CapabilityStatement as a map ready for JSON
// serialization. Resource types are listed alphabetically.
func (b *CapabilityBuilder) Build() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make([]string, 0, len(b.resources))
	for rt := range b.resources {
		types = append(types, rt)
	}
	sort.Strings(types)

	resources := make([]map[string]interface{}, len(types))
	for i, rt := range types {
		resources[i] = b.resources[rt].statement(rt)
	}

	return map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format("2006-01-02"),
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []string{"application/fhir+json"},
		"software": map[string]string{
			"name":    b.serverName,
			"version": b.serverVersion,
		},
		"implementation": map[string]string{
			"description": b.description,
			"url":         b.baseURL,
		},
		"rest": []map[string]interface{}{
			{
				"mode":     "server",
				"resource": resources,
			},
		},
	}
}

// DefaultInteractions returns the interaction codes every registered resource
// type supports.
func DefaultInteractions() []string {
	return []string{"read", "search-type", "create", "update", "delete"}
}

// CapabilityHandler serves the CapabilityStatement.
type CapabilityHandler struct {
	builder *CapabilityBuilder
}

// NewCapabilityHandler creates a handler backed by the given builder.
func NewCapabilityHandler(builder *CapabilityBuilder) *CapabilityHandler {
	return &CapabilityHandler{builder: builder}
}

// RegisterRoutes registers the metadata endpoint on the provided Echo group.
func (h *CapabilityHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/metadata", h.GetMetadata)
}

// GetMetadata returns the full CapabilityStatement.
func (h *CapabilityHandler) GetMetadata(c echo.Context) error {
	return c.JSON(http.StatusOK, h.builder.Build())
}
