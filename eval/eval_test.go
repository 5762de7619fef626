package eval

import (
	"bufio"
	"encoding/json"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TuKJet/models/ema"
)

func TestNumBatches(t *testing.T) {
	// An explicit cap wins.
	assert.Equal(t, 7, NumBatches(7, 10000, 100))
	// Otherwise enough batches to cover every sample.
	assert.Equal(t, 100, NumBatches(0, 10000, 100))
	assert.Equal(t, 101, NumBatches(0, 10001, 100))
	assert.Equal(t, 1, NumBatches(0, 1, 100))
}

func TestResolveAliases(t *testing.T) {
	f := &DriverFlags{
		DataPath:    "/data/mnist",
		OutputPath:  "/results",
		DatasetName: "mnist",
		SplitName:   "test",
		ModelName:   "lenet",
	}
	f.ResolveAliases()
	assert.Equal(t, "/data/mnist", f.DatasetDir)
	assert.Equal(t, "/results", f.EvalDir)
	assert.Equal(t, "mnist", f.DatasetName)
	assert.Equal(t, "lenet", f.ModelName)

	// A data path mentioning "dog" selects the dog-vs-cat validation setup.
	f = &DriverFlags{
		DataPath:    "/data/dogs_vs_cats",
		DatasetName: "mnist",
		SplitName:   "test",
		ModelName:   "lenet",
	}
	f.ResolveAliases()
	assert.Equal(t, "/data/dogs_vs_cats", f.DatasetDir)
	assert.Equal(t, "dog-vs-cat", f.DatasetName)
	assert.Equal(t, "validation", f.SplitName)
	assert.Equal(t, "inception_v3", f.ModelName)

	// No aliases set: nothing changes.
	f = &DriverFlags{DatasetDir: "/data", EvalDir: "/eval", DatasetName: "cifar10"}
	f.ResolveAliases()
	assert.Equal(t, "/data", f.DatasetDir)
	assert.Equal(t, "/eval", f.EvalDir)
	assert.Equal(t, "cifar10", f.DatasetName)
}

func TestNormalizeScope(t *testing.T) {
	assert.Equal(t, "/model/readout", normalizeScope("model/readout"))
	assert.Equal(t, "/model/readout", normalizeScope("/model/readout"))
}

func TestRunRejectsBadBatchSize(t *testing.T) {
	cfg := &Config{BatchSize: 0}
	_, err := cfg.Run(nil, nil)
	require.Error(t, err)
}

func TestLoadCheckpointMissing(t *testing.T) {
	_, err := LoadCheckpoint(nil, path.Join(t.TempDir(), "checkpoint-n0000001"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMissingMovingAverages(t *testing.T) {
	ctx := context.New()
	ctx.InAbsPath("/model/conv").VariableWithValue("weights", tensors.FromScalar(float32(2)))

	// Materializing without checkpointed shadows creates them from the live
	// values; they must be reported as missing.
	ema.MaterializeGraph(ctx, ModelScope)
	shadow := ctx.InspectVariable(ema.Scope+"/model/conv", "weights")
	require.NotNil(t, shadow)

	missing := MissingMovingAverages(ctx, nil)
	assert.Equal(t, []string{shadow.ParameterName()}, missing)

	// A checkpoint that supplied the shadow leaves nothing missing.
	loaded := map[string]bool{shadow.ParameterName(): true}
	assert.Empty(t, MissingMovingAverages(ctx, loaded))
}

func TestWriteSummaries(t *testing.T) {
	evalDir := path.Join(t.TempDir(), "eval")
	result := &Result{
		GlobalStep: 1000,
		NumBatches: 10,
		Metrics: []MetricValue{
			{Name: "Accuracy", ShortName: "acc", Value: 0.91, Pretty: "91.00%"},
			{Name: "Recall_5", ShortName: "rec5", Value: 0.99, Pretty: "99.00%"},
		},
	}
	require.NoError(t, WriteSummaries(evalDir, result))

	// A second run at a later step appends to the points file.
	result.GlobalStep = 2000
	result.Metrics[0].Value = 0.93
	require.NoError(t, WriteSummaries(evalDir, result))

	f, err := os.Open(path.Join(evalDir, MetricsPointsFile))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	var points []metricPoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var point metricPoint
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &point))
		points = append(points, point)
	}
	require.Len(t, points, 4)
	assert.Equal(t, int64(1000), points[0].GlobalStep)
	assert.Equal(t, "Accuracy", points[0].Metric)
	assert.Equal(t, 0.91, points[0].Value)
	assert.Equal(t, int64(2000), points[2].GlobalStep)
	assert.Equal(t, 0.93, points[2].Value)

	// The CSV holds only the latest run.
	csv, err := os.ReadFile(path.Join(evalDir, MetricsCSVFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "metric,short,value,global_step", lines[0])
	assert.Contains(t, lines[1], "Accuracy")
	assert.Contains(t, lines[1], "2000")
}
