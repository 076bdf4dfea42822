package db

import (
	"fmt"
	"strings"
)

// DistanceMetric used by FT.SEARCH vector similarity queries.
type DistanceMetric string

const (
	DistanceL2     DistanceMetric = "L2"
	DistanceCosine DistanceMetric = "COSINE"
)

// IndexFieldType enumerates the FT schema field kinds cardsense indexes.
type IndexFieldType int

const (
	IndexFieldNumeric IndexFieldType = iota
	IndexFieldTag
	IndexFieldVector
)

// IndexField is one schema entry. The vector attributes apply to
// IndexFieldVector only; M and EFConstruct fall back to server defaults at zero.
type IndexField struct {
	Name string
	Type IndexFieldType

	VectorDim         int
	VectorDistance    DistanceMetric
	VectorM           int
	VectorEFConstruct int
}

// IndexDefinition is an FT index over HASH keys.
type IndexDefinition struct {
	Name     string
	Prefixes []string
	Fields   []IndexField
}

// IndexBuilder assembles an IndexDefinition field by field.
type IndexBuilder struct {
	def IndexDefinition
}

// NewIndex starts a definition for the named index.
func NewIndex(name string) *IndexBuilder {
	return &IndexBuilder{def: IndexDefinition{Name: name}}
}

func (b *IndexBuilder) add(f IndexField) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, f)
	return b
}

// Prefix restricts the index to keys starting with any of prefixes.
func (b *IndexBuilder) Prefix(prefixes ...string) *IndexBuilder {
	b.def.Prefixes = append(b.def.Prefixes, prefixes...)
	return b
}

func (b *IndexBuilder) Numeric(name string) *IndexBuilder {
	return b.add(IndexField{Name: name, Type: IndexFieldNumeric})
}

func (b *IndexBuilder) Tag(name string) *IndexBuilder {
	return b.add(IndexField{Name: name, Type: IndexFieldTag})
}

// VectorHNSW adds a FLOAT32 vector field indexed with HNSW.
func (b *IndexBuilder) VectorHNSW(name string, dim int, distance DistanceMetric, m, efConstruct int) *IndexBuilder {
	return b.add(IndexField{
		Name:              name,
		Type:              IndexFieldVector,
		VectorDim:         dim,
		VectorDistance:    distance,
		VectorM:           m,
		VectorEFConstruct: efConstruct,
	})
}

// Build returns the definition once it passes Validate.
func (b *IndexBuilder) Build() (*IndexDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	def := b.def
	return &def, nil
}

// Validate rejects definitions the server would refuse: a missing or
// malformed name, no fields, unnamed or repeated fields, and vectors
// without a dimension.
func (idx *IndexDefinition) Validate() error {
	if idx.Name == "" {
		return fmt.Errorf("index name is required")
	}
	if strings.IndexFunc(idx.Name, invalidNameRune) >= 0 {
		return fmt.Errorf("index name %q contains invalid characters", idx.Name)
	}
	if len(idx.Fields) == 0 {
		return fmt.Errorf("index %s: at least one field is required", idx.Name)
	}

	seen := make(map[string]struct{}, len(idx.Fields))
	for i, f := range idx.Fields {
		switch {
		case f.Name == "":
			return fmt.Errorf("index %s: field %d has no name", idx.Name, i)
		case f.Type == IndexFieldVector && f.VectorDim <= 0:
			return fmt.Errorf("index %s: vector field %s needs a positive DIM", idx.Name, f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("index %s: duplicate field name %s", idx.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// invalidNameRune reports runes outside [a-zA-Z0-9_:-].
func invalidNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case r == '_' || r == ':' || r == '-':
		return false
	}
	return true
}
