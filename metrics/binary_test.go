package metrics

import (
	"testing"

	"github.com/gomlx/gomlx/ml/context"
	gomlxmetrics "github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TuKJet/models/datasets"
)

// One batch with tp=2, tn=1, fp=1, fn=1.
var (
	binaryLabels = [][]int32{{0}, {0}, {1}, {1}, {1}}
	binaryLogits = [][]float32{
		{0, 5}, // FP
		{5, 0}, // TN
		{0, 5}, // TP
		{0, 5}, // TP
		{5, 0}, // FN
	}
)

func TestConfusionCounts(t *testing.T) {
	wantCounts := map[ConfusionKind]float32{
		TruePositives:  2,
		TrueNegatives:  1,
		FalsePositives: 1,
		FalseNegatives: 1,
	}
	for kind, want := range wantCounts {
		ctx := context.New()
		metric := NewConfusionCount("count", "c", kind, 0)
		exec := updateExec(t, ctx, metric)
		got := callScalar(t, exec, binaryLabels, binaryLogits)
		assert.Equal(t, want, got)

		// A second identical batch doubles every count.
		got = callScalar(t, exec, binaryLabels, binaryLogits)
		assert.Equal(t, 2*want, got)
	}
}

func TestBinaryPrecisionRecallF1(t *testing.T) {
	ctx := context.New()

	precision := callScalar(t, updateExec(t, ctx, NewBinaryPrecision(0)), binaryLabels, binaryLogits)
	assert.InDelta(t, 2.0/3.0, precision, 1e-6)

	recall := callScalar(t, updateExec(t, ctx, NewBinaryRecall(0)), binaryLabels, binaryLogits)
	assert.InDelta(t, 2.0/3.0, recall, 1e-6)

	f1 := callScalar(t, updateExec(t, ctx, NewBinaryF1(0)), binaryLabels, binaryLogits)
	assert.InDelta(t, 4.0/6.0, f1, 1e-6)
}

func TestAUCThresholds(t *testing.T) {
	thresholds := aucThresholds()
	require.Len(t, thresholds, aucNumThresholds)
	assert.Less(t, thresholds[0], 0.0)
	assert.Greater(t, thresholds[aucNumThresholds-1], 1.0)
	for i := 1; i < len(thresholds); i++ {
		assert.Greater(t, thresholds[i], thresholds[i-1])
	}
}

func TestBinaryAUCROC(t *testing.T) {
	separable := [][]float32{{2, -2}, {2, -2}, {-2, 2}, {-2, 2}}
	labels := [][]int32{{0}, {0}, {1}, {1}}

	ctx := context.New()
	got := callScalar(t, updateExec(t, ctx, NewBinaryAUCROC(0)), labels, separable)
	assert.InDelta(t, 1.0, got, 1e-3)

	// Swapping the labels inverts the ranking.
	inverted := [][]int32{{1}, {1}, {0}, {0}}
	ctx = context.New()
	got = callScalar(t, updateExec(t, ctx, NewBinaryAUCROC(0)), inverted, separable)
	assert.InDelta(t, 0.0, got, 1e-3)
}

func TestBinaryAUCPR(t *testing.T) {
	separable := [][]float32{{2, -2}, {2, -2}, {-2, 2}, {-2, 2}}
	labels := [][]int32{{0}, {0}, {1}, {1}}
	inverted := [][]int32{{1}, {1}, {0}, {0}}

	ctx := context.New()
	good := callScalar(t, updateExec(t, ctx, NewBinaryAUCPR(0)), labels, separable)
	ctx = context.New()
	bad := callScalar(t, updateExec(t, ctx, NewBinaryAUCPR(0)), inverted, separable)

	assert.Greater(t, good, bad)
	assert.GreaterOrEqual(t, good, float32(0))
	assert.LessOrEqual(t, good, float32(1))
}

func TestForDataset(t *testing.T) {
	binary, err := datasets.Get("dog-vs-cat", "validation", "/tmp/dogvscat")
	require.NoError(t, err)
	names := metricNames(ForDataset(binary, 0))
	assert.Equal(t, []string{
		"Accuracy", "Precision", "Recall", "F1_score", "Auc_ROC", "Auc_PR",
		"TP: Real-dog, Pred-dog",
		"TN: Real-cat, Pred-cat",
		"FP: Real-cat, Pred-dog",
		"FN: Real-dog, Pred-cat",
	}, names)

	multiClass, err := datasets.Get("cifar10", "test", "/tmp/cifar")
	require.NoError(t, err)
	names = metricNames(ForDataset(multiClass, 0))
	assert.Equal(t, []string{"Accuracy", "Precision", "Recall", "Recall_5"}, names)
}

func metricNames(metrics []gomlxmetrics.Interface) []string {
	names := make([]string, 0, len(metrics))
	for _, m := range metrics {
		names = append(names, m.Name())
	}
	return names
}
