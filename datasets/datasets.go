// Package datasets provides the dataset factory shared by the evaluation,
// training and export drivers.
//
// A dataset is selected by name and split and described by a Descriptor,
// which carries the metadata the drivers need (sample count, class count,
// label names) and knows how to download the data and open it as a
// train.Dataset yielding image/label batches.
package datasets

import (
	"slices"
	"strings"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/pkg/errors"
)

// Descriptor describes one split of a dataset. It is the read-only metadata
// consumed by the drivers: the evaluation loop sizes its batch cap from
// NumSamples, and metric names are annotated from LabelNames.
type Descriptor struct {
	Name  string
	Split string
	Dir   string

	NumSamples  int
	NumClasses  int
	NumChannels int

	// ImageSize is the width and height the loader yields. Preprocessing may
	// still resize to the model's input resolution.
	ImageSize int

	// LabelNames maps label index to a human-readable name.
	LabelNames []string

	provider provider
}

// provider is the per-dataset implementation behind a Descriptor.
type provider interface {
	// numSamples for the given split. Called with the dataset directory for
	// providers that need to inspect it.
	numSamples(split, dir string) (int, error)
	download(dir string) error
	open(d *Descriptor, batchSize int) (train.Dataset, error)
}

type entry struct {
	splits      []string
	numClasses  int
	numChannels int
	imageSize   int
	labelNames  []string
	provider    provider
}

var registry = map[string]entry{
	"mnist": {
		splits:      []string{"train", "test"},
		numClasses:  10,
		numChannels: 1,
		imageSize:   mnistImageSize,
		labelNames:  mnistLabelNames,
		provider:    mnistProvider{},
	},
	"cifar10": {
		splits:      []string{"train", "test"},
		numClasses:  10,
		numChannels: 3,
		imageSize:   cifarImageSize,
		labelNames:  Cifar10Labels,
		provider:    cifarProvider{variant: cifar10},
	},
	"cifar100": {
		splits:      []string{"train", "test"},
		numClasses:  100,
		numChannels: 3,
		imageSize:   cifarImageSize,
		labelNames:  Cifar100FineLabels,
		provider:    cifarProvider{variant: cifar100},
	},
	"dog-vs-cat": {
		splits:      []string{"train", "validation"},
		numClasses:  2,
		numChannels: 3,
		imageSize:   dogVsCatImageSize,
		labelNames:  dogVsCatLabelNames,
		provider:    dogVsCatProvider{},
	},
}

// Names returns the supported dataset names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get returns the Descriptor for the given dataset name and split. The
// dataset directory is recorded in the Descriptor but not required to exist
// yet -- Download creates it.
func Get(name, split, dir string) (*Descriptor, error) {
	e, found := registry[name]
	if !found {
		return nil, errors.Errorf("unknown dataset %q, valid values are %s",
			name, strings.Join(Names(), ", "))
	}
	if !slices.Contains(e.splits, split) {
		return nil, errors.Errorf("unknown split %q for dataset %q, valid values are %s",
			split, name, strings.Join(e.splits, ", "))
	}
	dir = data.ReplaceTildeInDir(dir)
	numSamples, err := e.provider.numSamples(split, dir)
	if err != nil {
		return nil, errors.WithMessagef(err, "sizing dataset %q split %q", name, split)
	}
	return &Descriptor{
		Name:        name,
		Split:       split,
		Dir:         dir,
		NumSamples:  numSamples,
		NumClasses:  e.numClasses,
		NumChannels: e.numChannels,
		ImageSize:   e.imageSize,
		LabelNames:  e.labelNames,
		provider:    e.provider,
	}, nil
}

// IsBinary reports whether this is a two-class dataset, which selects the
// extended binary metric set in the evaluation driver.
func (d *Descriptor) IsBinary() bool { return d.NumClasses == 2 }

// LabelName returns the human-readable name for a label index.
func (d *Descriptor) LabelName(i int) string {
	if i < 0 || i >= len(d.LabelNames) {
		return "unknown"
	}
	return d.LabelNames[i]
}

// Download fetches the dataset files into the descriptor's directory if they
// are not there yet.
func (d *Descriptor) Download() error {
	return d.provider.download(d.Dir)
}

// NewDataset opens the split as a train.Dataset that yields one pass of
// batches: image tensors shaped [batchSize, height, width, channels] with
// float32 values in [0, 1], and label tensors shaped [batchSize, 1] of int32.
// After the last batch, Yield returns io.EOF until Reset.
func (d *Descriptor) NewDataset(batchSize int) (train.Dataset, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0, got %d", batchSize)
	}
	return d.provider.open(d, batchSize)
}
