package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/kailas-cloud/cardsense/internal/db"
)

// CreateIndex creates an FT index from the given definition.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := buildCreateArgs(def)
	if err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Key: def.Name, Err: err}
	}
	return nil
}

// IndexExists probes index existence via FT.INFO; "unknown index name" means absent.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") {
			return false, nil
		}
		return false, &db.Error{Op: db.OpIndexInfo, Key: name, Err: err}
	}
	return true, nil
}

// buildCreateArgs renders def as FT.CREATE arguments:
// name ON HASH [PREFIX n p...] SCHEMA field type [attrs]...
func buildCreateArgs(def *db.IndexDefinition) ([]string, error) {
	if def.Name == "" {
		return nil, errors.New("index name is required")
	}
	if len(def.Fields) == 0 {
		return nil, errors.New("at least one field is required")
	}

	args := []string{def.Name, "ON", "HASH"}
	if n := len(def.Prefixes); n > 0 {
		args = append(append(args, "PREFIX", strconv.Itoa(n)), def.Prefixes...)
	}
	args = append(args, "SCHEMA")

	for i := range def.Fields {
		f := &def.Fields[i]
		if f.Name == "" {
			return nil, errors.New("field name is required")
		}
		switch f.Type {
		case db.IndexFieldNumeric:
			args = append(args, f.Name, "NUMERIC")
		case db.IndexFieldTag:
			args = append(args, f.Name, "TAG")
		case db.IndexFieldVector:
			if f.VectorDim <= 0 {
				return nil, errors.New("vector DIM must be positive")
			}
			args = append(append(args, f.Name), hnswArgs(f)...)
		default:
			return nil, errors.New("unknown field type")
		}
	}
	return args, nil
}

func hnswArgs(f *db.IndexField) []string {
	distance := f.VectorDistance
	if distance == "" {
		distance = db.DistanceCosine
	}
	attrs := []string{"TYPE", "FLOAT32", "DIM", strconv.Itoa(f.VectorDim), "DISTANCE_METRIC", string(distance)}
	if f.VectorM > 0 {
		attrs = append(attrs, "M", strconv.Itoa(f.VectorM))
	}
	if f.VectorEFConstruct > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(f.VectorEFConstruct))
	}
	return append([]string{"VECTOR", "HNSW", strconv.Itoa(len(attrs))}, attrs...)
}
