package arrowio

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestFileWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logits.arrow")

	fw, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	steps := [][]float32{
		{0.1, -0.5, 2.0},
		{1.5, 0.0, -3.25},
	}
	for i, logits := range steps {
		if err := fw.Append(int64(i), int32(10+i), logits); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	fr, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		t.Fatalf("NewFileReader: %v", err)
	}
	defer fr.Close()

	if !fr.Schema().Equal(LogitsSchema()) {
		t.Fatalf("schema mismatch: %v", fr.Schema())
	}

	count := 0
	for {
		rec, err := fr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if rec.NumRows() != 1 {
			t.Fatalf("record %d has %d rows, want 1", count, rec.NumRows())
		}
		pos := rec.Column(0).(*array.Int64).Value(0)
		if pos != int64(count) {
			t.Errorf("record %d pos = %d", count, pos)
		}
		token := rec.Column(1).(*array.Int32).Value(0)
		if token != int32(10+count) {
			t.Errorf("record %d token = %d", count, token)
		}
		count++
	}
	if count != len(steps) {
		t.Fatalf("read %d records, want %d", count, len(steps))
	}
}

func TestPublisherEmptyPublishWithoutConnect(t *testing.T) {
	p := NewPublisher("127.0.0.1:0")
	if err := p.Publish(t.Context(), "x", nil); err != nil {
		// empty record set short-circuits before the connection check
		t.Fatalf("empty publish should be a no-op: %v", err)
	}
}
