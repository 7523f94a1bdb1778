package frame

import (
	"context"
	"fmt"

	"github.com/roach88/dfbridge/dtype"
)

// Series is a single column of an eager frame.
type Series struct {
	df *DataFrame
}

func newSeries(df *DataFrame) *Series { return &Series{df: df} }

func (s *Series) field() dtype.Field { return s.df.h.schema.Fields()[0] }

func (s *Series) Name() string { return s.field().Name }

func (s *Series) Dtype() dtype.Dtype { return s.field().Dtype }

func (s *Series) Backend() string { return s.df.Backend() }

// Values exports the canonical values of the column.
func (s *Series) Values(ctx context.Context) ([]any, error) {
	cols, err := s.df.ToColumns(ctx)
	if err != nil {
		return nil, err
	}
	if len(cols) != 1 {
		return nil, fmt.Errorf("series exported %d columns", len(cols))
	}
	return cols[0].Values, nil
}

func (s *Series) Len(ctx context.Context) (int, error) {
	return s.df.Height(ctx)
}

// ToFrame returns the one-column frame backing the series.
func (s *Series) ToFrame() *DataFrame { return s.df }
