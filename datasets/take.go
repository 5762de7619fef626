package datasets

import (
	"io"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
)

// Take returns a dataset that yields at most n batches from ds. It is used
// by the evaluation driver to enforce its batch cap.
func Take(ds train.Dataset, n int) train.Dataset {
	return &takeDataset{ds: ds, n: n}
}

type takeDataset struct {
	ds    train.Dataset
	n     int
	count int
}

func (t *takeDataset) Name() string { return t.ds.Name() }

func (t *takeDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if t.count >= t.n {
		return nil, nil, nil, io.EOF
	}
	spec, inputs, labels, err = t.ds.Yield()
	if err != nil {
		return
	}
	t.count++
	return
}

func (t *takeDataset) Reset() {
	t.count = 0
	t.ds.Reset()
}
