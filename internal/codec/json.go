package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"mixbridge/internal/domain"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Parse imports a project from JSON
func (c *JSONCodec) Parse(r io.Reader) (*domain.Project, error) {
	var p domain.Project
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := validate(&p); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}

	return &p, nil
}

// Export exports a project to JSON
func (c *JSONCodec) Export(p *domain.Project, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(p); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
