package datasets

import (
	"io"
	"sync"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
)

// inMemory is a train.Dataset over samples fully loaded in memory as a flat
// float32 buffer. It yields sequential batches for exactly one pass and then
// io.EOF until Reset.
type inMemory struct {
	name string

	mu       sync.Mutex
	position int

	// flat holds all images, one after another, [0,1] scaled.
	flat          []float32
	labels        []int32
	height, width int
	channels      int
	batchSize     int
}

var _ train.Dataset = (*inMemory)(nil)

func newInMemory(name string, flat []float32, labels []int32, height, width, channels, batchSize int) *inMemory {
	return &inMemory{
		name:      name,
		flat:      flat,
		labels:    labels,
		height:    height,
		width:     width,
		channels:  channels,
		batchSize: batchSize,
	}
}

// Name implements train.Dataset.
func (ds *inMemory) Name() string { return ds.name }

// Yield implements train.Dataset. The final batch may be smaller than the
// configured batch size.
func (ds *inMemory) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	numSamples := len(ds.labels)
	if ds.position >= numSamples {
		return nil, nil, nil, io.EOF
	}
	start := ds.position
	end := min(start+ds.batchSize, numSamples)
	ds.position = end

	sampleSize := ds.height * ds.width * ds.channels
	batch := end - start
	images := tensors.FromFlatDataAndDimensions(
		ds.flat[start*sampleSize:end*sampleSize],
		batch, ds.height, ds.width, ds.channels)
	batchLabels := tensors.FromFlatDataAndDimensions(ds.labels[start:end], batch, 1)
	return ds, []*tensors.Tensor{images}, []*tensors.Tensor{batchLabels}, nil
}

// Reset implements train.Dataset, restarting the pass.
func (ds *inMemory) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.position = 0
}
