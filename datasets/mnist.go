package datasets

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/pkg/errors"
)

// MNIST database of handwritten digits, in the original idx binary format.
// See http://yann.lecun.com/exdb/mnist/ for the format description.

const (
	mnistURL       = "https://storage.googleapis.com/cvdf-datasets/mnist"
	mnistImageSize = 28

	mnistImageMagic = 0x00000803
	mnistLabelMagic = 0x00000801
)

var (
	mnistLabelNames = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

	mnistFiles = map[string][2]string{
		"train": {"train-images-idx3-ubyte.gz", "train-labels-idx1-ubyte.gz"},
		"test":  {"t10k-images-idx3-ubyte.gz", "t10k-labels-idx1-ubyte.gz"},
	}
	mnistSamples = map[string]int{
		"train": 60000,
		"test":  10000,
	}
)

type mnistProvider struct{}

func (mnistProvider) numSamples(split, _ string) (int, error) {
	return mnistSamples[split], nil
}

func (mnistProvider) download(dir string) error {
	for _, files := range mnistFiles {
		for _, file := range files {
			fileURL, _ := url.JoinPath(mnistURL, file)
			if err := data.DownloadIfMissing(fileURL, path.Join(dir, file), ""); err != nil {
				return errors.WithMessagef(err, "downloading MNIST file %q", file)
			}
		}
	}
	return nil
}

func (mnistProvider) open(d *Descriptor, batchSize int) (train.Dataset, error) {
	files := mnistFiles[d.Split]
	flat, err := loadMNISTImages(path.Join(d.Dir, files[0]))
	if err != nil {
		return nil, err
	}
	labels, err := loadMNISTLabels(path.Join(d.Dir, files[1]))
	if err != nil {
		return nil, err
	}
	if len(labels)*mnistImageSize*mnistImageSize != len(flat) {
		return nil, errors.Errorf("MNIST %s: %d labels for %d pixels", d.Split, len(labels), len(flat))
	}
	return newInMemory(d.Name+"/"+d.Split, flat, labels, mnistImageSize, mnistImageSize, 1, batchSize), nil
}

func openMNISTFile(filename string) (*gzip.Reader, func(), error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening %q", filename)
	}
	r, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrapf(err, "decompressing %q", filename)
	}
	closeAll := func() {
		_ = r.Close()
		_ = f.Close()
	}
	return r, closeAll, nil
}

// loadMNISTImages reads an idx3-ubyte image file and returns the pixels as a
// flat float32 buffer scaled to [0, 1].
func loadMNISTImages(filename string) ([]float32, error) {
	r, done, err := openMNISTFile(filename)
	if err != nil {
		return nil, err
	}
	defer done()

	var header struct {
		Magic  int32
		Count  int32
		Height int32
		Width  int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "reading idx header of %q", filename)
	}
	if header.Magic != mnistImageMagic {
		return nil, errors.Errorf("%q is not an idx image file (magic 0x%08x)", filename, header.Magic)
	}
	if header.Height != mnistImageSize || header.Width != mnistImageSize {
		return nil, errors.Errorf("%q holds %dx%d images, expected %dx%d",
			filename, header.Height, header.Width, mnistImageSize, mnistImageSize)
	}
	raw := make([]byte, int(header.Count)*mnistImageSize*mnistImageSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "reading pixels of %q", filename)
	}
	flat := make([]float32, len(raw))
	for i, b := range raw {
		flat[i] = float32(b) / 255
	}
	return flat, nil
}

// loadMNISTLabels reads an idx1-ubyte label file.
func loadMNISTLabels(filename string) ([]int32, error) {
	r, done, err := openMNISTFile(filename)
	if err != nil {
		return nil, err
	}
	defer done()

	var header struct {
		Magic int32
		Count int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "reading idx header of %q", filename)
	}
	if header.Magic != mnistLabelMagic {
		return nil, errors.Errorf("%q is not an idx label file (magic 0x%08x)", filename, header.Magic)
	}
	raw := make([]byte, int(header.Count))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "reading labels of %q", filename)
	}
	labels := make([]int32, len(raw))
	for i, b := range raw {
		labels[i] = int32(b)
	}
	return labels, nil
}
