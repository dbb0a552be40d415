package dataset

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-tiller/internal/tensor"
)

// Arrow IPC snapshot of a batch set. One record per batch, one row per
// sample, input and label as FixedSizeList<float32> columns. Lets a batch
// stream be replayed bit-identically across runs and hosts.

func batchSchema(inputSize, outputSize int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "input", Type: arrow.FixedSizeListOf(int32(inputSize), arrow.PrimitiveTypes.Float32)},
		{Name: "label", Type: arrow.FixedSizeListOf(int32(outputSize), arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// WriteArrow streams batches to w in Arrow IPC format.
func WriteArrow(w io.Writer, batches []Batch) error {
	if len(batches) == 0 {
		return errors.New("dataset: no batches to write")
	}
	inputSize := batches[0].Input.Cols()
	outputSize := batches[0].Label.Cols()
	schema := batchSchema(inputSize, outputSize)

	wr := ipc.NewWriter(w, ipc.WithSchema(schema))
	defer wr.Close()

	for i, b := range batches {
		if b.Input.Cols() != inputSize || b.Label.Cols() != outputSize {
			return fmt.Errorf("dataset: batch %d shape differs from batch 0", i)
		}
		rec := batchToRecord(schema, b)
		err := wr.Write(rec)
		rec.Release()
		if err != nil {
			return fmt.Errorf("dataset: write batch %d: %w", i, err)
		}
	}
	return nil
}

func batchToRecord(schema *arrow.Schema, b Batch) arrow.Record {
	bld := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer bld.Release()

	appendTensor := func(fb *array.FixedSizeListBuilder, data []float32, rows, cols int) {
		vb := fb.ValueBuilder().(*array.Float32Builder)
		for row := 0; row < rows; row++ {
			fb.Append(true)
			vb.AppendValues(data[row*cols:(row+1)*cols], nil)
		}
	}

	appendTensor(bld.Field(0).(*array.FixedSizeListBuilder), b.Input.Data(), b.Input.Rows(), b.Input.Cols())
	appendTensor(bld.Field(1).(*array.FixedSizeListBuilder), b.Label.Data(), b.Label.Rows(), b.Label.Cols())
	return bld.NewRecord()
}

// ReadArrow reads a batch set written by WriteArrow.
func ReadArrow(r io.Reader) ([]Batch, error) {
	rd, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("dataset: open arrow stream: %w", err)
	}
	defer rd.Release()

	var batches []Batch
	for rd.Next() {
		rec := rd.Record()
		input, err := columnToTensor(rec, 0)
		if err != nil {
			return nil, err
		}
		label, err := columnToTensor(rec, 1)
		if err != nil {
			return nil, err
		}
		batches = append(batches, Batch{Input: input, Label: label})
	}
	if err := rd.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read arrow stream: %w", err)
	}
	if len(batches) == 0 {
		return nil, errors.New("dataset: arrow stream holds no batches")
	}
	return batches, nil
}

func columnToTensor(rec arrow.Record, col int) (*tensor.Tensor, error) {
	list, ok := rec.Column(col).(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("dataset: column %d is not a FixedSizeList", col)
	}
	values, ok := list.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("dataset: column %d values are not float32", col)
	}
	width := int(list.DataType().(*arrow.FixedSizeListType).Len())
	rows := int(rec.NumRows())

	data := make([]float32, rows*width)
	copy(data, values.Float32Values())
	return tensor.FromSlice(rows, width, data), nil
}
