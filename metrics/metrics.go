// Package metrics provides the evaluation metrics the drivers attach to a
// trainer: streaming accumulators that aggregate over all evaluated batches,
// selected per dataset.
//
// Multi-class datasets get accuracy, macro precision and recall, and top-5
// recall. Binary datasets get accuracy, precision, recall, F1, ROC and PR
// AUCs and the four confusion matrix counts.
package metrics

import (
	"fmt"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	gomlxmetrics "github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
)

// Metric type keys, used to group metrics that share semantics.
const (
	PrecisionMetricType = "precision"
	RecallMetricType    = "recall"
	F1MetricType        = "f1"
	AUCMetricType       = "auc"
	CountMetricType     = "count"
)

// accumSpec describes one accumulator variable of a streaming metric. Empty
// dims means a scalar.
type accumSpec struct {
	name string
	dims []int
}

// streamingMetric accumulates per-batch count deltas into context variables
// and derives its value from the accumulated counts. Accumulators are
// float64, the returned metric value float32.
type streamingMetric struct {
	name, shortName, metricType, scopeName string

	// labelsOffset is subtracted from the labels before every update.
	labelsOffset int

	accums []accumSpec

	// deltas returns one increment per accumulator, given this batch's
	// labels (shape [batch], int) and logits ([batch, numClasses]).
	deltas func(labels, logits *Node) []*Node

	// value derives the metric from the accumulated counts.
	value func(accums []*Node) *Node

	pPrint func(value *tensors.Tensor) string
}

var _ gomlxmetrics.Interface = (*streamingMetric)(nil)

func (m *streamingMetric) Name() string       { return m.name }
func (m *streamingMetric) ShortName() string  { return m.shortName }
func (m *streamingMetric) MetricType() string { return m.metricType }

func (m *streamingMetric) ScopeName() string {
	if m.scopeName == "" {
		m.scopeName = context.EscapeScopeName(fmt.Sprintf("%s_uuid_%s", m.Name(), uuid.NewString()))
	}
	return m.scopeName
}

func (m *streamingMetric) zeroValue(spec accumSpec) *tensors.Tensor {
	return tensors.FromShape(shapes.Make(dtypes.Float64, spec.dims...))
}

// UpdateGraph implements metrics.Interface: it adds this batch's deltas to
// the accumulator variables and returns the metric over everything
// accumulated so far.
func (m *streamingMetric) UpdateGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	g := predictions[0].Graph()
	labelsNode, logits := prepareLabelsAndLogits(m.labelsOffset, labels, predictions)
	deltas := m.deltas(labelsNode, logits)

	// Metrics state lives outside the model scope and is never checked for
	// reuse, model variables may be marked for reuse while these are created
	// on first use.
	ctx = ctx.Checked(false).In(gomlxmetrics.Scope).In(m.ScopeName())
	accumulated := make([]*Node, len(m.accums))
	for i, spec := range m.accums {
		v := ctx.VariableWithValue(spec.name, m.zeroValue(spec)).SetTrainable(false)
		accumulated[i] = Add(v.ValueGraph(g), deltas[i])
		v.SetValueGraph(accumulated[i])
	}
	return ConvertDType(m.value(accumulated), dtypes.Float32)
}

// Reset implements metrics.Interface, zeroing the accumulators. It is a
// no-op if called before the first UpdateGraph.
func (m *streamingMetric) Reset(ctx *context.Context) {
	ctx = ctx.In(gomlxmetrics.Scope).In(m.ScopeName())
	for _, spec := range m.accums {
		v := ctx.InspectVariable(ctx.Scope(), spec.name)
		if v == nil {
			return
		}
		v.SetValue(m.zeroValue(spec))
	}
}

func (m *streamingMetric) PrettyPrint(value *tensors.Tensor) string {
	if m.pPrint != nil {
		return m.pPrint(value)
	}
	return fmt.Sprintf("%.4f", tensors.ToScalar[float32](value))
}

// prepareLabelsAndLogits normalizes the trainer inputs: labels come as
// [batch, 1] (or [batch]) integers, logits as [batch, numClasses].
func prepareLabelsAndLogits(labelsOffset int, labels, predictions []*Node) (labelsNode, logits *Node) {
	labelsNode = labels[0]
	if labelsNode.Rank() == 2 {
		labelsNode = Squeeze(labelsNode, -1)
	}
	if labelsOffset != 0 {
		labelsNode = AddScalar(labelsNode, float64(-labelsOffset))
	}
	return labelsNode, predictions[0]
}

// countOf sums a boolean node into a float64 scalar.
func countOf(mask *Node) *Node {
	return ReduceAllSum(ConvertDType(mask, dtypes.Float64))
}

// safeDiv divides numerator by denominator, returning zero where the
// denominator is zero.
func safeDiv(numerator, denominator *Node) *Node {
	zero := ZerosLike(denominator)
	isZero := Equal(denominator, zero)
	result := Div(numerator, Where(isZero, OnesLike(denominator), denominator))
	return Where(isZero, zero, result)
}

func prettyPercentage(value *tensors.Tensor) string {
	return fmt.Sprintf("%.2f%%", 100*tensors.ToScalar[float32](value))
}

func prettyCount(value *tensors.Tensor) string {
	return fmt.Sprintf("%d", int64(tensors.ToScalar[float32](value)))
}
