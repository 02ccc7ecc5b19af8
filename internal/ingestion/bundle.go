package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Benny93/axon-sql/internal/graph"
)

// Bundle is the extractor output for one batch of source artifacts.
type Bundle struct {
	Artifacts []graph.Artifact   `json:"artifacts"`
	Facts     []graph.SourceFact `json:"facts"`
	Hints     []graph.EdgeHint   `json:"hints"`
	Joins     []graph.Join       `json:"joins"`
}

// DecodeBundle reads a bundle and checks that every fact has an ID and a
// known kind.
func DecodeBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	dec := json.NewDecoder(r)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}

	var errs []error
	for i, f := range b.Facts {
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("fact %d: missing id", i))
			continue
		}
		switch f.Kind {
		case graph.FactType, graph.FactCallable, graph.FactQueryUnit:
		default:
			errs = append(errs, fmt.Errorf("fact %s: unknown kind %q", f.ID, f.Kind))
		}
	}
	for i, a := range b.Artifacts {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("artifact %d: missing id", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid bundle: %w", err)
	}
	return &b, nil
}

// loadBundle decodes an input of kind InputBundle.
func loadBundle(in Input) (*Bundle, error) {
	b, err := DecodeBundle(bytes.NewReader(in.Content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.RelPath, err)
	}
	return b, nil
}
