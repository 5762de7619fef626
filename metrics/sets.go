package metrics

import (
	"fmt"

	. "github.com/gomlx/gomlx/graph"
	gomlxmetrics "github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/TuKJet/models/datasets"
)

// ForDataset returns the evaluation metrics for the given dataset: the
// binary set for two-class datasets, the multi-class set otherwise.
// labelsOffset is subtracted from every label before the updates, for
// networks trained without a background class.
func ForDataset(desc *datasets.Descriptor, labelsOffset int) []gomlxmetrics.Interface {
	if desc.IsBinary() {
		positive, negative := desc.LabelName(1), desc.LabelName(0)
		return []gomlxmetrics.Interface{
			NewAccuracy(labelsOffset),
			NewBinaryPrecision(labelsOffset),
			NewBinaryRecall(labelsOffset),
			NewBinaryF1(labelsOffset),
			NewBinaryAUCROC(labelsOffset),
			NewBinaryAUCPR(labelsOffset),
			NewConfusionCount(fmt.Sprintf("TP: Real-%s, Pred-%s", positive, positive), "tp", TruePositives, labelsOffset),
			NewConfusionCount(fmt.Sprintf("TN: Real-%s, Pred-%s", negative, negative), "tn", TrueNegatives, labelsOffset),
			NewConfusionCount(fmt.Sprintf("FP: Real-%s, Pred-%s", negative, positive), "fp", FalsePositives, labelsOffset),
			NewConfusionCount(fmt.Sprintf("FN: Real-%s, Pred-%s", positive, negative), "fn", FalseNegatives, labelsOffset),
		}
	}
	return []gomlxmetrics.Interface{
		NewAccuracy(labelsOffset),
		NewPrecision(desc.NumClasses, labelsOffset),
		NewRecall(desc.NumClasses, labelsOffset),
		NewTopKRecall(5, labelsOffset),
	}
}

// NewAccuracy returns a streaming accuracy: fraction of samples whose argmax
// prediction matches the label.
func NewAccuracy(labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         "Accuracy",
		shortName:    "acc",
		metricType:   gomlxmetrics.AccuracyMetricType,
		labelsOffset: labelsOffset,
		accums:       []accumSpec{{name: "correct"}, {name: "total"}},
		deltas: func(labels, logits *Node) []*Node {
			predictions := ArgMax(logits, -1, dtypes.Int32)
			labels = ConvertDType(labels, dtypes.Int32)
			return []*Node{
				countOf(Equal(predictions, labels)),
				batchSizeOf(labels),
			}
		},
		value: func(accums []*Node) *Node {
			return safeDiv(accums[0], accums[1])
		},
		pPrint: prettyPercentage,
	}
}

// NewPrecision returns a streaming macro-averaged precision over the given
// number of classes: the per-class ratio of true positives to predicted
// positives, averaged over classes.
func NewPrecision(numClasses, labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         "Precision",
		shortName:    "prec",
		metricType:   PrecisionMetricType,
		labelsOffset: labelsOffset,
		accums: []accumSpec{
			{name: "true_positives", dims: []int{numClasses}},
			{name: "false_positives", dims: []int{numClasses}},
		},
		deltas: func(labels, logits *Node) []*Node {
			predOneHot, labelOneHot := oneHotPair(labels, logits, numClasses)
			return []*Node{
				ReduceSum(Mul(predOneHot, labelOneHot), 0),
				ReduceSum(Mul(predOneHot, OneMinus(labelOneHot)), 0),
			}
		},
		value: func(accums []*Node) *Node {
			tp, fp := accums[0], accums[1]
			return ReduceAllMean(safeDiv(tp, Add(tp, fp)))
		},
	}
}

// NewRecall returns a streaming macro-averaged recall over the given number
// of classes.
func NewRecall(numClasses, labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         "Recall",
		shortName:    "rec",
		metricType:   RecallMetricType,
		labelsOffset: labelsOffset,
		accums: []accumSpec{
			{name: "true_positives", dims: []int{numClasses}},
			{name: "false_negatives", dims: []int{numClasses}},
		},
		deltas: func(labels, logits *Node) []*Node {
			predOneHot, labelOneHot := oneHotPair(labels, logits, numClasses)
			return []*Node{
				ReduceSum(Mul(predOneHot, labelOneHot), 0),
				ReduceSum(Mul(OneMinus(predOneHot), labelOneHot), 0),
			}
		},
		value: func(accums []*Node) *Node {
			tp, fn := accums[0], accums[1]
			return ReduceAllMean(safeDiv(tp, Add(tp, fn)))
		},
	}
}

// NewTopKRecall returns a streaming top-k recall ("Recall_5" for k=5): the
// fraction of samples whose label is among the k largest logits.
func NewTopKRecall(k, labelsOffset int) gomlxmetrics.Interface {
	return &streamingMetric{
		name:         fmt.Sprintf("Recall_%d", k),
		shortName:    fmt.Sprintf("rec%d", k),
		metricType:   RecallMetricType,
		labelsOffset: labelsOffset,
		accums:       []accumSpec{{name: "hits"}, {name: "total"}},
		deltas: func(labels, logits *Node) []*Node {
			g := logits.Graph()
			numClasses := logits.Shape().Dimensions[logits.Rank()-1]
			labelOneHot := OneHot(ConvertDType(labels, dtypes.Int32), numClasses, logits.DType())
			labelLogit := ReduceSum(Mul(logits, labelOneHot), -1)
			// Rank of the label's logit: how many logits are strictly larger.
			rank := ReduceSum(ConvertDType(GreaterThan(logits, ExpandAxes(labelLogit, -1)), dtypes.Float64), -1)
			hits := countOf(LessThan(rank, Scalar(g, dtypes.Float64, float64(k))))
			return []*Node{hits, batchSizeOf(labels)}
		},
		value: func(accums []*Node) *Node {
			return safeDiv(accums[0], accums[1])
		},
		pPrint: prettyPercentage,
	}
}

// oneHotPair returns the one-hot encodings (float64, shape
// [batch, numClasses]) of the argmax predictions and of the labels.
func oneHotPair(labels, logits *Node, numClasses int) (predOneHot, labelOneHot *Node) {
	predictions := ArgMax(logits, -1, dtypes.Int32)
	predOneHot = OneHot(predictions, numClasses, dtypes.Float64)
	labelOneHot = OneHot(ConvertDType(labels, dtypes.Int32), numClasses, dtypes.Float64)
	return
}

// batchSizeOf returns the batch size of the node as a float64 scalar.
func batchSizeOf(x *Node) *Node {
	return Scalar(x.Graph(), dtypes.Float64, float64(x.Shape().Dimensions[0]))
}
