package datasets

import (
	"io"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
)

// Loop returns a dataset that restarts ds whenever it is exhausted, so it
// never yields io.EOF. It is used by the training driver, which counts steps
// instead of epochs.
func Loop(ds train.Dataset) train.Dataset {
	return &loopDataset{ds: ds}
}

type loopDataset struct {
	ds train.Dataset
}

func (l *loopDataset) Name() string { return l.ds.Name() }

func (l *loopDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = l.ds.Yield()
	if err == io.EOF {
		l.ds.Reset()
		spec, inputs, labels, err = l.ds.Yield()
	}
	return
}

func (l *loopDataset) Reset() {
	l.ds.Reset()
}
