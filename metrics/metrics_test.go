package metrics

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	gomlxmetrics "github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"
)

// updateExec builds an Exec that feeds one batch of labels/logits through the
// metric's UpdateGraph.
func updateExec(t *testing.T, ctx *context.Context, metric gomlxmetrics.Interface) *context.Exec {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	return context.NewExec(backend, ctx, func(ctx *context.Context, labels, logits *Node) *Node {
		return metric.UpdateGraph(ctx, []*Node{labels}, []*Node{logits})
	})
}

func callScalar(t *testing.T, exec *context.Exec, labels any, logits any) float32 {
	t.Helper()
	results := exec.Call(labels, logits)
	require.Len(t, results, 1)
	return tensors.ToScalar[float32](results[0])
}

func TestAccuracyStreaming(t *testing.T) {
	ctx := context.New()
	metric := NewAccuracy(0)
	exec := updateExec(t, ctx, metric)

	// First batch: predictions 0, 1, 0 against labels 0, 1, 1.
	got := callScalar(t, exec,
		[][]int32{{0}, {1}, {1}},
		[][]float32{{2, 1}, {0, 1}, {3, 0}})
	assert.InDelta(t, 2.0/3.0, got, 1e-6)

	// Second batch accumulates: 3 correct out of 6.
	got = callScalar(t, exec,
		[][]int32{{0}, {1}, {0}},
		[][]float32{{-1, 0}, {0, 1}, {0, 1}})
	assert.InDelta(t, 3.0/6.0, got, 1e-6)
	assert.Equal(t, "50.00%", metric.PrettyPrint(tensors.FromScalar(float32(0.5))))

	// Reset drops the accumulated counts.
	metric.Reset(ctx)
	got = callScalar(t, exec,
		[][]int32{{0}, {1}, {1}},
		[][]float32{{2, 1}, {0, 1}, {1, 0}})
	assert.InDelta(t, 2.0/3.0, got, 1e-6)
}

func TestAccuracyLabelsOffset(t *testing.T) {
	ctx := context.New()
	// Labels 1 and 2 map to classes 0 and 1 after the offset.
	exec := updateExec(t, ctx, NewAccuracy(1))
	got := callScalar(t, exec,
		[][]int32{{1}, {2}},
		[][]float32{{1, 0}, {0, 1}})
	assert.InDelta(t, 1.0, got, 1e-6)
}

func TestMacroPrecisionRecall(t *testing.T) {
	ctx := context.New()
	// 3 classes; predictions 0, 0, 1, 2 against labels 0, 1, 1, 2:
	//	class 0: tp=1 fp=1 fn=0, class 1: tp=1 fp=0 fn=1, class 2: tp=1 fp=0 fn=0.
	labels := [][]int32{{0}, {1}, {1}, {2}}
	logits := [][]float32{{5, 0, 0}, {5, 0, 0}, {0, 5, 0}, {0, 0, 5}}

	precision := callScalar(t, updateExec(t, ctx, NewPrecision(3, 0)), labels, logits)
	assert.InDelta(t, (0.5+1.0+1.0)/3.0, precision, 1e-6)

	recall := callScalar(t, updateExec(t, ctx, NewRecall(3, 0)), labels, logits)
	assert.InDelta(t, (1.0+0.5+1.0)/3.0, recall, 1e-6)
}

func TestTopKRecall(t *testing.T) {
	ctx := context.New()
	metric := NewTopKRecall(2, 0)
	assert.Equal(t, "Recall_2", metric.Name())

	// Labels within the top-2 logits for 2 out of 3 samples.
	exec := updateExec(t, ctx, metric)
	got := callScalar(t, exec,
		[][]int32{{0}, {1}, {2}},
		[][]float32{
			{3, 2, 1}, // Rank 0: hit.
			{3, 2, 1}, // Rank 1: hit.
			{3, 2, 1}, // Rank 2: miss.
		})
	assert.InDelta(t, 2.0/3.0, got, 1e-6)
}
