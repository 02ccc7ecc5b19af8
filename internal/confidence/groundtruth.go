package confidence

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const groundTruthSchemaURL = "https://axon-sql.dev/schemas/groundtruth.schema.json"

//go:embed groundtruth.schema.json
var groundTruthSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// GroundTruthDocument is the on-disk ground truth format.
type GroundTruthDocument struct {
	Version int                `json:"version"`
	Entries []GroundTruthEntry `json:"entries"`
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(groundTruthSchemaURL, strings.NewReader(groundTruthSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(groundTruthSchemaURL)
	})
	return compiledSchema, schemaErr
}

// LoadGroundTruth reads and validates a ground truth file.
func LoadGroundTruth(path string) ([]GroundTruthEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ground truth: %w", err)
	}

	sch, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("compile ground truth schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse ground truth %s: %w", path, err)
	}
	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("ground truth %s: schema validation failed: %w", path, err)
	}

	var doc GroundTruthDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode ground truth %s: %w", path, err)
	}
	return doc.Entries, nil
}

// SaveGroundTruth writes entries as a version 1 document.
func SaveGroundTruth(path string, entries []GroundTruthEntry) error {
	if entries == nil {
		entries = []GroundTruthEntry{}
	}
	data, err := json.MarshalIndent(GroundTruthDocument{Version: 1, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ground truth: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ground truth dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write ground truth: %w", err)
	}
	return nil
}
