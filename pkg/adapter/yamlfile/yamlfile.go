// Package yamlfile provides an adapter that serves a static catalog kept in
// a local YAML file. Rotational offsets are honored by windowing the list.
package yamlfile

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/solaius/model-harvester/pkg/adapter"
	"github.com/solaius/model-harvester/pkg/entity"
)

// TypeName is the adapter type used in the ingestion config.
const TypeName = "yamlfile"

func init() {
	adapter.Register(TypeName, New)
}

// catalogFile is the on-disk layout: a top-level "entities" list.
type catalogFile struct {
	Entities []map[string]any `yaml:"entities"`
}

// Adapter reads entities from a YAML catalog file.
type Adapter struct {
	name        string
	path        string
	defaultType entity.Type
}

// New builds an adapter from options. Required: "path". Optional:
// "defaultType" (model).
func New(name string, options map[string]any) (adapter.Adapter, error) {
	path, err := adapter.RequiredString(options, "path")
	if err != nil {
		return nil, fmt.Errorf("yamlfile source %s: %w", name, err)
	}
	return &Adapter{
		name:        name,
		path:        path,
		defaultType: entity.Type(adapter.String(options, "defaultType", string(entity.TypeModel))),
	}, nil
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return a.name }

// Fetch implements adapter.Adapter.
func (a *Adapter) Fetch(ctx context.Context, opts adapter.FetchOptions) ([]adapter.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := ReadCatalog(a.path)
	if err != nil {
		return nil, err
	}
	return adapter.Window(records, opts.Offset, opts.Limit), nil
}

// Normalize implements adapter.Adapter.
func (a *Adapter) Normalize(raw adapter.Raw) (*entity.Entity, error) {
	return adapter.NormalizeRecord(a.name, a.defaultType, raw)
}

// ReadCatalog parses a YAML catalog file into raw records.
func ReadCatalog(path string) ([]adapter.Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses YAML catalog bytes into raw records.
func ParseCatalog(data []byte) ([]adapter.Raw, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	out := make([]adapter.Raw, 0, len(f.Entities))
	for _, e := range f.Entities {
		out = append(out, adapter.Raw(e))
	}
	return out, nil
}
