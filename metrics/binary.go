package metrics

import (
	. "github.com/gomlx/gomlx/graph"
	gomlxmetrics "github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gopjrt/dtypes"
)

// Binary metrics assume two classes with logits shaped [batch, 2], class 1
// being the positive one.

// ConfusionKind selects one of the four confusion matrix counts.
type ConfusionKind int

const (
	TruePositives ConfusionKind = iota
	TrueNegatives
	FalsePositives
	FalseNegatives
)

// positiveMasks returns boolean [batch] nodes marking the samples predicted
// positive and labeled positive.
func positiveMasks(labels, logits *Node) (predPositive, labelPositive *Node) {
	predictions := ArgMax(logits, -1, dtypes.Int32)
	predPositive = Equal(predictions, OnesLike(predictions))
	labels = ConvertDType(labels, dtypes.Int32)
	labelPositive = NotEqual(labels, ZerosLike(labels))
	return
}

// confusionDeltas returns this batch's scalar [tp, tn, fp, fn] increments.
func confusionDeltas(labels, logits *Node) []*Node {
	predPositive, labelPositive := positiveMasks(labels, logits)
	return []*Node{
		countOf(LogicalAnd(predPositive, labelPositive)),
		countOf(LogicalAnd(LogicalNot(predPositive), LogicalNot(labelPositive))),
		countOf(LogicalAnd(predPositive, LogicalNot(labelPositive))),
		countOf(LogicalAnd(LogicalNot(predPositive), labelPositive)),
	}
}

var confusionAccums = []accumSpec{
	{name: "true_positives"},
	{name: "true_negatives"},
	{name: "false_positives"},
	{name: "false_negatives"},
}

// NewConfusionCount returns a streaming count of one confusion matrix cell.
// The name conventionally spells out the real and predicted classes, e.g.
// "FP: Real-cat, Pred-dog".
func NewConfusionCount(name, shortName string, kind ConfusionKind, labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         name,
		shortName:    shortName,
		metricType:   CountMetricType,
		labelsOffset: labelsOffset,
		accums:       confusionAccums,
		deltas:       confusionDeltas,
		value: func(accums []*Node) *Node {
			return accums[kind]
		},
		pPrint: prettyCount,
	}
}

// NewBinaryPrecision returns the streaming precision tp / (tp + fp).
func NewBinaryPrecision(labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         "Precision",
		shortName:    "prec",
		metricType:   PrecisionMetricType,
		labelsOffset: labelsOffset,
		accums:       confusionAccums,
		deltas:       confusionDeltas,
		value: func(accums []*Node) *Node {
			tp, fp := accums[TruePositives], accums[FalsePositives]
			return safeDiv(tp, Add(tp, fp))
		},
	}
}

// NewBinaryRecall returns the streaming recall tp / (tp + fn).
func NewBinaryRecall(labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         "Recall",
		shortName:    "rec",
		metricType:   RecallMetricType,
		labelsOffset: labelsOffset,
		accums:       confusionAccums,
		deltas:       confusionDeltas,
		value: func(accums []*Node) *Node {
			tp, fn := accums[TruePositives], accums[FalseNegatives]
			return safeDiv(tp, Add(tp, fn))
		},
	}
}

// NewBinaryF1 returns the streaming F1 score 2tp / (2tp + fp + fn).
func NewBinaryF1(labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         "F1_score",
		shortName:    "f1",
		metricType:   F1MetricType,
		labelsOffset: labelsOffset,
		accums:       confusionAccums,
		deltas:       confusionDeltas,
		value: func(accums []*Node) *Node {
			tp2 := MulScalar(accums[TruePositives], 2)
			return safeDiv(tp2, Add(tp2, Add(accums[FalsePositives], accums[FalseNegatives])))
		},
	}
}

// AUC approximation: confusion counts are accumulated per score threshold
// and the area under the curve is integrated with the trapezoid rule. 20
// evenly spaced thresholds plus one below 0 and one above 1 to anchor the
// curve's endpoints.
const (
	aucNumThresholds = 22
	aucEpsilon       = 1e-7
)

var aucAccums = []accumSpec{
	{name: "true_positives", dims: []int{aucNumThresholds}},
	{name: "true_negatives", dims: []int{aucNumThresholds}},
	{name: "false_positives", dims: []int{aucNumThresholds}},
	{name: "false_negatives", dims: []int{aucNumThresholds}},
}

func aucThresholds() []float64 {
	thresholds := make([]float64, aucNumThresholds)
	thresholds[0] = -aucEpsilon
	for i := 1; i < aucNumThresholds-1; i++ {
		thresholds[i] = float64(i) / float64(aucNumThresholds-1)
	}
	thresholds[aucNumThresholds-1] = 1 + aucEpsilon
	return thresholds
}

// aucDeltas accumulates per-threshold [tp, tn, fp, fn] vectors, thresholding
// the positive class probability.
func aucDeltas(labels, logits *Node) []*Node {
	g := logits.Graph()
	batchSize := logits.Shape().Dimensions[0]

	scores := Squeeze(Slice(Softmax(logits), AxisRange(), AxisElem(1)), -1)
	scores = ConvertDType(scores, dtypes.Float64)
	scoresByThreshold := BroadcastToDims(ExpandAxes(scores, -1), batchSize, aucNumThresholds)

	thresholds := Const(g, aucThresholds())
	thresholds = BroadcastToDims(ExpandAxes(thresholds, 0), batchSize, aucNumThresholds)

	predPositive := ConvertDType(GreaterOrEqual(scoresByThreshold, thresholds), dtypes.Float64)

	_, labelPositive := positiveMasks(labels, logits)
	labelPositive = ConvertDType(labelPositive, dtypes.Float64)
	labelPositive = BroadcastToDims(ExpandAxes(labelPositive, -1), batchSize, aucNumThresholds)

	return []*Node{
		ReduceSum(Mul(predPositive, labelPositive), 0),
		ReduceSum(Mul(OneMinus(predPositive), OneMinus(labelPositive)), 0),
		ReduceSum(Mul(predPositive, OneMinus(labelPositive)), 0),
		ReduceSum(Mul(OneMinus(predPositive), labelPositive), 0),
	}
}

// trapezoid integrates y over x. x decreases with the threshold index, so
// adjacent differences are taken left minus right.
func trapezoid(x, y *Node) *Node {
	xLeft := Slice(x, AxisRange(0, aucNumThresholds-1))
	xRight := Slice(x, AxisRange(1, aucNumThresholds))
	yLeft := Slice(y, AxisRange(0, aucNumThresholds-1))
	yRight := Slice(y, AxisRange(1, aucNumThresholds))
	return ReduceAllSum(MulScalar(Mul(Sub(xLeft, xRight), Add(yLeft, yRight)), 0.5))
}

// NewBinaryAUCROC returns the streaming area under the ROC curve (true
// positive rate over false positive rate).
func NewBinaryAUCROC(labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         "Auc_ROC",
		shortName:    "aucroc",
		metricType:   AUCMetricType,
		labelsOffset: labelsOffset,
		accums:       aucAccums,
		deltas:       aucDeltas,
		value: func(accums []*Node) *Node {
			tp, tn := accums[TruePositives], accums[TrueNegatives]
			fp, fn := accums[FalsePositives], accums[FalseNegatives]
			tpr := Div(tp, AddScalar(Add(tp, fn), aucEpsilon))
			fpr := Div(fp, AddScalar(Add(fp, tn), aucEpsilon))
			return trapezoid(fpr, tpr)
		},
	}
}

// NewBinaryAUCPR returns the streaming area under the precision-recall
// curve.
func NewBinaryAUCPR(labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         "Auc_PR",
		shortName:    "aucpr",
		metricType:   AUCMetricType,
		labelsOffset: labelsOffset,
		accums:       aucAccums,
		deltas:       aucDeltas,
		value: func(accums []*Node) *Node {
			tp := accums[TruePositives]
			fp, fn := accums[FalsePositives], accums[FalseNegatives]
			recall := Div(tp, AddScalar(Add(tp, fn), aucEpsilon))
			precision := Div(tp, AddScalar(Add(tp, fp), aucEpsilon))
			return trapezoid(recall, precision)
		},
	}
}
