package arrowio

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// LogitsSchema describes one decode step per row: the position, the
// token id fed in, and the full logits vector.
func LogitsSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "pos", Type: arrow.PrimitiveTypes.Int64},
		{Name: "token", Type: arrow.PrimitiveTypes.Int32},
		{Name: "logits", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// FileWriter streams decode-step records into an Arrow IPC file, one
// record batch per step.
type FileWriter struct {
	f   *os.File
	w   *ipc.FileWriter
	mem memory.Allocator
	sc  *arrow.Schema
}

func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create arrow file: %w", err)
	}
	mem := memory.NewGoAllocator()
	sc := LogitsSchema()
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(sc), ipc.WithAllocator(mem))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arrow writer: %w", err)
	}
	return &FileWriter{f: f, w: w, mem: mem, sc: sc}, nil
}

// Append writes one decode step.
func (fw *FileWriter) Append(pos int64, token int32, logits []float32) error {
	rec := buildRecord(fw.mem, fw.sc, pos, token, logits)
	defer rec.Release()
	if err := fw.w.Write(rec); err != nil {
		return fmt.Errorf("arrow write: %w", err)
	}
	return nil
}

func (fw *FileWriter) Close() error {
	if err := fw.w.Close(); err != nil {
		fw.f.Close()
		return err
	}
	return fw.f.Close()
}

func buildRecord(mem memory.Allocator, sc *arrow.Schema, pos int64, token int32, logits []float32) arrow.Record {
	b := array.NewRecordBuilder(mem, sc)
	defer b.Release()

	b.Field(0).(*array.Int64Builder).Append(pos)
	b.Field(1).(*array.Int32Builder).Append(token)
	lb := b.Field(2).(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Float32Builder).AppendValues(logits, nil)

	return b.NewRecord()
}
