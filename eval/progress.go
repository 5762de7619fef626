package eval

import (
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/schollz/progressbar/v3"
)

// progressDataset shows a progress bar ticking once per evaluated batch.
type progressDataset struct {
	ds  train.Dataset
	bar *progressbar.ProgressBar
}

func newProgressDataset(ds train.Dataset, numBatches int) train.Dataset {
	return &progressDataset{
		ds: ds,
		bar: progressbar.NewOptions(numBatches,
			progressbar.OptionSetDescription("evaluating"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish()),
	}
}

func (ds *progressDataset) Name() string { return ds.ds.Name() }

func (ds *progressDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.ds.Yield()
	if err == nil {
		_ = ds.bar.Add(1)
	}
	return
}

func (ds *progressDataset) Reset() {
	ds.bar.Reset()
	ds.ds.Reset()
}
