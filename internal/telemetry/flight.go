package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultTimeout = 30 * time.Second

// FlightPublisher ships step records to an Arrow Flight collector over
// gRPC, one DoPut stream per Publish call.
type FlightPublisher struct {
	addr    string
	timeout time.Duration
	client  flight.Client
}

func NewFlightPublisher(addr string) (*FlightPublisher, error) {
	if addr == "" {
		return nil, fmt.Errorf("telemetry: empty flight address")
	}
	return &FlightPublisher{
		addr:    addr,
		timeout: defaultTimeout,
	}, nil
}

// Connect dials the collector. Dialing is lazy on the gRPC side, so this
// only fails on malformed addresses.
func (p *FlightPublisher) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(p.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("telemetry: create flight client: %w", err)
	}
	p.client = client
	return nil
}

func (p *FlightPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// StepSchema is the wire schema for training step records.
func StepSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "epoch", Type: arrow.PrimitiveTypes.Int64},
		{Name: "step", Type: arrow.PrimitiveTypes.Int64},
		{Name: "loss", Type: arrow.PrimitiveTypes.Float32},
		{Name: "scale", Type: arrow.PrimitiveTypes.Float32},
		{Name: "duration_seconds", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
}

// BuildRecord converts step records to one Arrow record. The caller owns
// the returned record and must Release it.
func BuildRecord(records []StepRecord) arrow.Record {
	bld := array.NewRecordBuilder(memory.DefaultAllocator, StepSchema())
	defer bld.Release()

	epochs := bld.Field(0).(*array.Int64Builder)
	steps := bld.Field(1).(*array.Int64Builder)
	losses := bld.Field(2).(*array.Float32Builder)
	scales := bld.Field(3).(*array.Float32Builder)
	durations := bld.Field(4).(*array.Float64Builder)

	for _, r := range records {
		epochs.Append(int64(r.Epoch))
		steps.Append(int64(r.Step))
		losses.Append(r.Loss)
		scales.Append(r.Scale)
		durations.Append(r.Duration.Seconds())
	}
	return bld.NewRecord()
}

// Publish sends the records under /training/<run> via DoPut.
func (p *FlightPublisher) Publish(ctx context.Context, run string, records []StepRecord) error {
	if p.client == nil {
		return fmt.Errorf("telemetry: client not connected, call Connect() first")
	}
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stream, err := p.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("telemetry: open DoPut stream: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(StepSchema()))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"training", run},
	})

	rec := BuildRecord(records)
	writeErr := wr.Write(rec)
	rec.Release()
	if writeErr != nil {
		wr.Close()
		return fmt.Errorf("telemetry: write record: %w", writeErr)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("telemetry: close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("telemetry: close stream: %w", err)
	}
	return nil
}
