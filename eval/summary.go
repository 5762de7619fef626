package eval

import (
	"encoding/json"
	"os"
	"path"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// MetricsPointsFile accumulates one JSON object per metric per run, so
	// successive evaluations of a training run can be plotted over steps.
	MetricsPointsFile = "eval_metrics_points.json"

	// MetricsCSVFile holds the latest run as a table.
	MetricsCSVFile = "eval_metrics.csv"
)

type metricPoint struct {
	GlobalStep int64   `json:"global_step"`
	Metric     string  `json:"metric"`
	Short      string  `json:"short"`
	Value      float64 `json:"value"`
}

// WriteSummaries writes the run's metrics under evalDir: appended JSON-lines
// points and a CSV snapshot.
func WriteSummaries(evalDir string, result *Result) error {
	if err := os.MkdirAll(evalDir, 0777); err != nil {
		return errors.Wrapf(err, "creating evaluation directory %q", evalDir)
	}
	if err := appendPoints(path.Join(evalDir, MetricsPointsFile), result); err != nil {
		return err
	}
	if err := writeCSV(path.Join(evalDir, MetricsCSVFile), result); err != nil {
		return err
	}
	klog.Infof("Wrote metrics summaries to %q", evalDir)
	return nil
}

func appendPoints(filePath string, result *Result) error {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening %q", filePath)
	}
	enc := json.NewEncoder(f)
	for _, m := range result.Metrics {
		point := metricPoint{
			GlobalStep: result.GlobalStep,
			Metric:     m.Name,
			Short:      m.ShortName,
			Value:      m.Value,
		}
		if err := enc.Encode(point); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "writing %q", filePath)
		}
	}
	return errors.Wrapf(f.Close(), "closing %q", filePath)
}

func writeCSV(filePath string, result *Result) error {
	names := make([]string, len(result.Metrics))
	shorts := make([]string, len(result.Metrics))
	values := make([]float64, len(result.Metrics))
	steps := make([]int, len(result.Metrics))
	for i, m := range result.Metrics {
		names[i] = m.Name
		shorts[i] = m.ShortName
		values[i] = m.Value
		steps[i] = int(result.GlobalStep)
	}
	df := dataframe.New(
		series.New(names, series.String, "metric"),
		series.New(shorts, series.String, "short"),
		series.New(values, series.Float, "value"),
		series.New(steps, series.Int, "global_step"),
	)
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	if err := df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing %q", filePath)
}
