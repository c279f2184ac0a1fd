package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/parquet"
	"github.com/apache/arrow/go/v13/parquet/compress"
	"github.com/apache/arrow/go/v13/parquet/pqarrow"
)

// ParquetSink streams records into a single Parquet file. Every record
// becomes one row group with one row per element.
type ParquetSink struct {
	mu        sync.Mutex
	path      string
	variables []string
	schema    *arrow.Schema
	alloc     memory.Allocator
	file      *os.File
	writer    *pqarrow.FileWriter
	rows      int64
}

// ParquetOption configures a ParquetSink.
type ParquetOption func(*parquetOptions)

type parquetOptions struct {
	compression compress.Compression
}

// WithParquetCompression sets the column compression codec. Snappy is the default.
func WithParquetCompression(c compress.Compression) ParquetOption {
	return func(o *parquetOptions) { o.compression = c }
}

// NewParquetSink creates the file at path with columns timestep, date,
// element, then one float64 column per variable.
func NewParquetSink(path string, variables []string, opts ...ParquetOption) (*ParquetSink, error) {
	o := parquetOptions{compression: compress.Codecs.Snappy}
	for _, opt := range opts {
		opt(&o)
	}

	fields := []arrow.Field{
		{Name: "timestep", Type: arrow.PrimitiveTypes.Int64},
		{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_us},
		{Name: "element", Type: arrow.PrimitiveTypes.Int64},
	}
	for _, v := range variables {
		fields = append(fields, arrow.Field{Name: v, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file: %w", err)
	}
	props := parquet.NewWriterProperties(parquet.WithCompression(o.compression))
	w, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	return &ParquetSink{
		path:      path,
		variables: append([]string(nil), variables...),
		schema:    schema,
		alloc:     memory.NewGoAllocator(),
		file:      f,
		writer:    w,
	}, nil
}

// Path returns the file being written.
func (s *ParquetSink) Path() string { return s.path }

// Rows returns the number of rows written so far.
func (s *ParquetSink) Rows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *ParquetSink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return fmt.Errorf("parquet sink %s is closed", s.path)
	}

	b := array.NewRecordBuilder(s.alloc, s.schema)
	defer b.Release()

	n := rec.Len()
	ts := b.Field(0).(*array.Int64Builder)
	date := b.Field(1).(*array.TimestampBuilder)
	elem := b.Field(2).(*array.Int64Builder)
	for i := range n {
		ts.Append(int64(rec.Timestep))
		date.Append(arrow.Timestamp(rec.Date.UnixMicro()))
		elem.Append(int64(rec.Offset + i))
	}
	for j, v := range s.variables {
		fb := b.Field(3 + j).(*array.Float64Builder)
		values, ok := rec.Values[v]
		if !ok {
			fb.AppendNulls(n)
			continue
		}
		fb.AppendValues(values, nil)
	}

	batch := b.NewRecord()
	defer batch.Release()
	if err := s.writer.Write(batch); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	s.rows += int64(n)
	return nil
}

// Close finalizes the file footer.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	s.file = nil
	if err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
