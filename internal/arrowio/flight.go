package arrowio

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// Publisher pushes decode-step records to an Arrow Flight endpoint,
// e.g. a vector store collecting logits for offline analysis.
type Publisher struct {
	addr    string
	client  flight.Client
	timeout time.Duration
}

func NewPublisher(addr string) *Publisher {
	return &Publisher{addr: addr, timeout: 30 * time.Second}
}

// Connect dials the Flight endpoint with insecure transport creds;
// these exports run inside trusted networks.
func (p *Publisher) Connect() error {
	client, err := flight.NewClientWithMiddleware(p.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("flight dial %s: %w", p.addr, err)
	}
	p.client = client
	return nil
}

func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Publish streams records under the given path descriptor via DoPut.
// All records must share a schema.
func (p *Publisher) Publish(ctx context.Context, path string, recs []arrow.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if p.client == nil {
		return fmt.Errorf("flight publisher not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stream, err := p.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("flight DoPut: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(recs[0].Schema()))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{path},
	})
	for _, rec := range recs {
		if err := wr.Write(rec); err != nil {
			_ = wr.Close()
			return fmt.Errorf("flight write: %w", err)
		}
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("flight close: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("flight close send: %w", err)
	}

	logger.Log.Info("published records", "path", path, "batches", len(recs), "addr", p.addr)
	return nil
}
