package stageflow

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
)

// RequestSpec describes the outbound HTTP call of an api-call stage.
// Data maps request-body field names to dot-paths into the user record.
type RequestSpec struct {
	Method string            `json:"method"`
	URI    string            `json:"uri"`
	Data   map[string]string `json:"data,omitempty"`
}

// ResponseSpec describes which response-body fields an api-call stage
// copies back into the user record.
type ResponseSpec struct {
	ExtractData []ExtractRule `json:"extract-data,omitempty"`
}

// ExtractRule copies one response field to one dot-path destination.
type ExtractRule struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// StageDefinition is one node in the conversation graph, loaded from a
// JSON document and immutable once the catalog is built. Fields not
// named here are preserved in Extra for the stage-type parsers.
type StageDefinition struct {
	URI                 string            `json:"uri"`
	Type                StageType         `json:"type"`
	NextURI             string            `json:"next-uri,omitempty"`
	BeforeHooks         []string          `json:"before-hooks,omitempty"`
	AfterHooks          []string          `json:"after-hooks,omitempty"`
	StorageProperty     string            `json:"storage-property,omitempty"`
	StoragePropertyBase string            `json:"storage-property-base,omitempty"`
	Request             *RequestSpec      `json:"request,omitempty"`
	Response            *ResponseSpec     `json:"response,omitempty"`
	Objects             []map[string]any  `json:"objects,omitempty"`
	RefURI              string            `json:"ref-uri,omitempty"`
	Overrides           map[string]any    `json:"overrides,omitempty"`
	Info                any               `json:"info,omitempty"`
	PostInfo            []string          `json:"post_info,omitempty"`
	Final               bool              `json:"final,omitempty"`
	Options             map[string]any    `json:"options,omitempty"`
	Query               map[string]string `json:"query,omitempty"`

	// Extra holds fields this engine does not interpret. They ride along
	// through override merges and are visible to parsers.
	Extra map[string]any `json:"-"`
}

var stageKnownKeys = []string{
	"uri", "type", "next-uri", "before-hooks", "after-hooks",
	"storage-property", "storage-property-base", "request", "response",
	"objects", "ref-uri", "overrides", "info", "post_info", "final",
	"options", "query",
}

// UnmarshalJSON decodes the known fields and gathers everything else
// into Extra.
func (d *StageDefinition) UnmarshalJSON(b []byte) error {
	type alias StageDefinition
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for _, key := range stageKnownKeys {
		delete(raw, key)
	}
	if len(raw) > 0 {
		a.Extra = raw
	}

	*d = StageDefinition(a)
	return nil
}

// MarshalJSON emits the known fields merged with Extra.
func (d StageDefinition) MarshalJSON() ([]byte, error) {
	type alias StageDefinition
	b, err := json.Marshal(alias(d))
	if err != nil {
		return nil, err
	}

	if len(d.Extra) == 0 {
		return b, nil
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range d.Extra {
		m[k] = v
	}
	return json.Marshal(m)
}

// IsContainer reports whether the stage fans out into child fragments.
func (d *StageDefinition) IsContainer() bool {
	return d.Type == StageContainer
}

// toMap flattens the definition into a JSON-shaped map.
func (d *StageDefinition) toMap() (map[string]any, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ApplyOverrides returns a copy of the definition with each override key
// replacing the corresponding field. The receiver is never mutated.
func (d *StageDefinition) ApplyOverrides(overrides map[string]any) (*StageDefinition, error) {
	if len(overrides) == 0 {
		copied := *d
		return &copied, nil
	}

	m, err := d.toMap()
	if err != nil {
		return nil, fmt.Errorf("merge overrides for %s: %w", d.URI, err)
	}
	for k, v := range overrides {
		m[k] = v
	}

	return stageFromMap(m)
}

// stageFromMap decodes a stage fragment (a container child or an
// override-merged definition) into a StageDefinition.
func stageFromMap(m map[string]any) (*StageDefinition, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var d StageDefinition
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// StageStore is the read-only URI-to-definition catalog, built once at
// startup.
type StageStore struct {
	stages map[string]*StageDefinition
}

// NewStageStore builds a catalog from definitions, rejecting missing or
// duplicate URIs.
func NewStageStore(defs ...*StageDefinition) (*StageStore, error) {
	stages := make(map[string]*StageDefinition, len(defs))
	for _, d := range defs {
		if d.URI == "" {
			return nil, fmt.Errorf("stage definition of type %q has no uri", d.Type)
		}
		if _, exists := stages[d.URI]; exists {
			return nil, fmt.Errorf("duplicate stage uri %q", d.URI)
		}
		stages[d.URI] = d
	}
	return &StageStore{stages: stages}, nil
}

// Lookup returns the definition for uri, if present.
func (s *StageStore) Lookup(uri string) (*StageDefinition, bool) {
	d, ok := s.stages[uri]
	return d, ok
}

// Len returns the number of stages in the catalog.
func (s *StageStore) Len() int {
	return len(s.stages)
}

// LoadStages walks dir recursively, decodes every .json document into a
// StageDefinition keyed by its own uri field, and builds the catalog.
func LoadStages(dir string) (*StageStore, error) {
	var defs []*StageDefinition

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}

		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read stage file %s: %w", path, err)
		}

		var d StageDefinition
		if err := json.Unmarshal(b, &d); err != nil {
			return fmt.Errorf("decode stage file %s: %w", path, err)
		}
		if d.URI == "" {
			return fmt.Errorf("stage file %s has no uri", path)
		}

		defs = append(defs, &d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return NewStageStore(defs...)
}

// DefinitionSchema returns a JSON Schema for StageDefinition, for
// catalog tooling and editors.
func DefinitionSchema() map[string]any {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}

	schema := reflector.Reflect(&StageDefinition{})

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}
