package client

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-tagger/internal/tagger"
)

// EmissionsColumn names the input column of flattened per-sequence
// emission scores.
const EmissionsColumn = "emissions"

// ResultSchema is the schema of decoded record batches.
var ResultSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "path", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{Name: "labels", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
	},
	nil,
)

// EmissionSchema is the schema of emission record batches.
var EmissionSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: EmissionsColumn, Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	},
	nil,
)

// RecordBatchBuilder creates Arrow RecordBatches from decoded sequences.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch converts decoded results into a RecordBatch with
// ResultSchema. It returns nil for empty input.
func (b *RecordBatchBuilder) BuildRecordBatch(results []tagger.Result) (arrow.RecordBatch, error) {
	if len(results) == 0 {
		return nil, nil
	}

	pathBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Int32)
	defer pathBuilder.Release()
	pathValues := pathBuilder.ValueBuilder().(*array.Int32Builder)

	labelBuilder := array.NewListBuilder(b.mem, arrow.BinaryTypes.String)
	defer labelBuilder.Release()
	labelValues := labelBuilder.ValueBuilder().(*array.StringBuilder)

	scoreBuilder := array.NewFloat64Builder(b.mem)
	defer scoreBuilder.Release()

	for _, r := range results {
		pathBuilder.Append(true)
		for _, tag := range r.Path {
			pathValues.Append(int32(tag))
		}
		labelBuilder.Append(true)
		labelValues.AppendValues(r.Labels, nil)
		scoreBuilder.Append(r.Score)
	}

	cols := []arrow.Array{pathBuilder.NewArray(), labelBuilder.NewArray(), scoreBuilder.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecordBatch(ResultSchema, cols, int64(len(results))), nil
}

// BuildEmissionBatch flattens sequences into a RecordBatch with
// EmissionSchema.
func (b *RecordBatchBuilder) BuildEmissionBatch(seqs []tagger.Sequence) arrow.RecordBatch {
	listBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Float32)
	defer listBuilder.Release()
	valueBuilder := listBuilder.ValueBuilder().(*array.Float32Builder)

	for _, s := range seqs {
		listBuilder.Append(true)
		for _, row := range s.Emissions {
			for _, v := range row {
				valueBuilder.Append(float32(v))
			}
		}
	}

	col := listBuilder.NewArray()
	defer col.Release()
	return array.NewRecordBatch(EmissionSchema, []arrow.Array{col}, int64(len(seqs)))
}

// SequencesFromRecord reads the emissions column of rec, splitting each
// row into tokens of n scores.
func SequencesFromRecord(rec arrow.RecordBatch, n int) ([]tagger.Sequence, error) {
	indices := rec.Schema().FieldIndices(EmissionsColumn)
	if len(indices) == 0 {
		return nil, fmt.Errorf("record has no %q column", EmissionsColumn)
	}
	list, ok := rec.Column(indices[0]).(*array.List)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want list<float32>", EmissionsColumn, rec.Column(indices[0]).DataType())
	}
	values, ok := list.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("column %q has %s values, want float32", EmissionsColumn, list.ListValues().DataType())
	}

	seqs := make([]tagger.Sequence, list.Len())
	for i := range seqs {
		start, end := list.ValueOffsets(i)
		width := int(end - start)
		if width%n != 0 {
			return nil, fmt.Errorf("row %d has %d scores, not a multiple of %d tags", i, width, n)
		}
		rows := make([][]float64, width/n)
		for tok := range rows {
			row := make([]float64, n)
			for k := range row {
				row[k] = float64(values.Value(int(start) + tok*n + k))
			}
			rows[tok] = row
		}
		seqs[i] = tagger.Sequence{Emissions: rows}
	}
	return seqs, nil
}
