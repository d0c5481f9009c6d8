package bridging

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// Fingerprint is a content hash of a document, used to detect no-op pushes
type Fingerprint [blake2b.Size256]byte

// FingerprintOf hashes the canonical YAML rendering of doc. A nil document
// hashes like an empty one.
func FingerprintOf(doc *yaml.Node) (Fingerprint, error) {
	if doc == nil || isEmpty(doc) {
		return blake2b.Sum256(nil), nil
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("render document: %w", err)
	}
	return blake2b.Sum256(data), nil
}

// CloneNode deep-copies a YAML tree
func CloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Content != nil {
		out.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = CloneNode(c)
		}
	}
	return &out
}

// NewDocument returns an empty mapping document
func NewDocument() *yaml.Node {
	return &yaml.Node{
		Kind:    yaml.DocumentNode,
		Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
	}
}

// ParseDocument reads a YAML document
func ParseDocument(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc.Kind == 0 {
		return NewDocument(), nil
	}
	return &doc, nil
}

func isEmpty(doc *yaml.Node) bool {
	if doc.Kind == 0 {
		return true
	}
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return true
		}
		root := doc.Content[0]
		return root.Kind == yaml.MappingNode && len(root.Content) == 0
	}
	return false
}

// rootMapping returns the top-level mapping of doc, creating it if the
// document is empty
func rootMapping(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == 0 {
		*doc = *NewDocument()
	}
	if doc.Kind != yaml.DocumentNode {
		return nil, fmt.Errorf("expected document node, got kind %d", doc.Kind)
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected mapping at document root, got kind %d", root.Kind)
	}
	return root, nil
}

// setSection replaces (or appends) a top-level key with the encoding of value
func setSection(doc *yaml.Node, key string, value any) error {
	root, err := rootMapping(doc)
	if err != nil {
		return err
	}
	var encoded yaml.Node
	if err := encoded.Encode(value); err != nil {
		return fmt.Errorf("encode section %s: %w", key, err)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			root.Content[i+1] = &encoded
			return nil
		}
	}
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&encoded,
	)
	return nil
}

// removeSection drops a top-level key
func removeSection(doc *yaml.Node, key string) error {
	root, err := rootMapping(doc)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			root.Content = append(root.Content[:i], root.Content[i+2:]...)
			return nil
		}
	}
	return nil
}

// section returns the value node of a top-level key
func section(doc *yaml.Node, key string) *yaml.Node {
	if doc == nil {
		return nil
	}
	root, err := rootMapping(CloneNode(doc))
	if err != nil {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			return root.Content[i+1]
		}
	}
	return nil
}
