// Package bridge implements the Tool Bridge (C8): a narrow HTTP surface,
// behind its own shared API key and separate from the chat API, that lets an external agent
// runtime call into a bounded set of host-side tools and sync its own
// conversation transcripts into this service's persistence layer.
//
// The bridge never exposes raw host credentials to the calling agent: every
// adapter reaches the host's integration state through IntegrationHost and
// returns only the tool result, never a secret.
package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/nexus/internal/orcherr"
)

// Adapter is one callable tool in the bridge catalog. It mirrors the shape
// of agent.Tool (Name/Description/Schema/Execute) but threads the acting
// user through Execute, since every bridge tool call is scoped to the host
// user named by the X-Nexus-User-Id header, and adds ScopeOfEffect so the
// catalog can tell callers what a tool is allowed to touch before they
// invoke it.
type Adapter interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	ScopeOfEffect() string
	Execute(ctx context.Context, userID string, args json.RawMessage) (any, error)
}

// compiledAdapter pairs an Adapter with its pre-compiled JSON Schema, so
// argument validation never re-parses the schema on the request path.
type compiledAdapter struct {
	adapter Adapter
	schema  *jsonschema.Schema
}

// Catalog is the registered, immutable set of bridge tool adapters.
type Catalog struct {
	mu       sync.RWMutex
	adapters map[string]*compiledAdapter
	version  string
}

// NewCatalog compiles and registers the given adapters. A schema that fails
// to compile is a programming error in the adapter and panics at startup,
// the same way an unparsable route template would.
func NewCatalog(adapters ...Adapter) *Catalog {
	c := &Catalog{adapters: make(map[string]*compiledAdapter, len(adapters))}
	for _, a := range adapters {
		schema := compileSchema(a.Name(), a.Schema())
		c.adapters[a.Name()] = &compiledAdapter{adapter: a, schema: schema}
	}
	c.version = computeVersion(adapters)
	return c
}

var schemaCache sync.Map // schema string -> *jsonschema.Schema

// compileSchema compiles a tool's JSON Schema, caching by the schema's raw
// text so repeated catalog rebuilds (e.g. in tests) don't recompile
// identical schemas. Grounded on pkg/pluginsdk/validation.go's
// compileSchema, narrowed to the tool-bridge's argSchema use case.
func compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema)
	}
	compiled, err := jsonschema.CompileString(name+".json", key)
	if err != nil {
		panic("bridge: invalid schema for tool " + name + ": " + err.Error())
	}
	schemaCache.Store(key, compiled)
	return compiled
}

// computeVersion derives a deterministic content hash over the sorted
// (name, schema) pairs of the registered adapters. This stands in for an
// incrementing version counter: it changes exactly when the adapter set or
// any adapter's schema changes, without needing new persisted state across
// restarts.
func computeVersion(adapters []Adapter) string {
	names := make([]string, len(adapters))
	byName := make(map[string]Adapter, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name()
		byName[a.Name()] = a
	}
	sort.Strings(names)
	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(byName[name].Schema())
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Version returns the catalog's content-addressed version string.
func (c *Catalog) Version() string {
	return c.version
}

// Entries returns the catalog sorted by tool name, for a stable wire order.
func (c *Catalog) Entries() []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]CatalogEntry, 0, len(c.adapters))
	for _, ca := range c.adapters {
		entries = append(entries, CatalogEntry{
			Name:          ca.adapter.Name(),
			Description:   ca.adapter.Description(),
			ArgSchema:     ca.adapter.Schema(),
			ScopeOfEffect: ca.adapter.ScopeOfEffect(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// CatalogEntry is the catalog package's internal mirror of
// models.ToolCatalogEntry; handlers convert at the HTTP boundary so this
// package stays free of a direct pkg/models/tool.go dependency on field
// layout changes.
type CatalogEntry struct {
	Name          string
	Description   string
	ArgSchema     json.RawMessage
	ScopeOfEffect string
}

// Execute validates args against the named tool's schema and dispatches to
// its adapter. Returns orcherr.NotFound for an unknown tool and
// orcherr.InvalidRequest for a schema violation, so handlers can map both to
// the right HTTP status without inspecting error strings.
func (c *Catalog) Execute(ctx context.Context, userID, tool string, args json.RawMessage) (any, error) {
	c.mu.RLock()
	ca, ok := c.adapters[tool]
	c.mu.RUnlock()
	if !ok {
		return nil, orcherr.New(orcherr.NotFound, "bridge", "unknown tool: "+tool)
	}

	var decoded any
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidRequest, "bridge", err)
	}
	if err := ca.schema.Validate(decoded); err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidRequest, "bridge", err)
	}

	return ca.adapter.Execute(ctx, userID, args)
}
