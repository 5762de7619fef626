package datasets

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	timage "github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Dogs vs Cats dataset (Microsoft/Kaggle), a directory of JPEGs under
// PetImages/{Cat,Dog}. There is no official split, so samples are assigned
// to folds by a checksum of their index and the "validation" split takes the
// last fold. A handful of files in the archive are truncated or not images
// at all; they are skipped by a static list.

const (
	dogVsCatURL      = "https://download.microsoft.com/download/3/E/1/3E1C3F21-ECDB-4869-8368-6DEBA77B919F/kagglecatsanddogs_5340.zip"
	dogVsCatZipFile  = "kagglecatsanddogs_5340.zip"
	dogVsCatZipDir   = "PetImages"
	dogVsCatZipHash  = "b7974bd00a84a99921f36ee4403f089853777b5ae8d151c76a86e64900334af9"
	dogVsCatMaxIndex = 12500

	dogVsCatImageSize = 299

	dogVsCatNumFolds       = 10
	dogVsCatValidationFold = dogVsCatNumFolds - 1
)

var (
	dogVsCatLabelNames = []string{"cat", "dog"}
	dogVsCatSubDirs    = [2]string{"Cat", "Dog"}

	badCatImages = map[int]bool{666: true, 5370: true, 6435: true, 10404: true, 11095: true, 12080: true}
	badDogImages = map[int]bool{2317: true, 9500: true, 11233: true, 11702: true, 11912: true}
	badImages    = [2]map[int]bool{badCatImages, badDogImages}
)

type dogVsCatProvider struct{}

// dogVsCatFold deterministically assigns an image to a fold from its label
// and index, so splits are stable across runs and machines.
func dogVsCatFold(label, index int) int {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, int32(label))
	_ = binary.Write(&buf, binary.LittleEndian, int32(index))
	return int(crc32.ChecksumIEEE(buf.Bytes()) % uint32(dogVsCatNumFolds))
}

func dogVsCatInSplit(split string, label, index int) bool {
	if badImages[label][index] {
		return false
	}
	fold := dogVsCatFold(label, index)
	if split == "validation" {
		return fold == dogVsCatValidationFold
	}
	return fold != dogVsCatValidationFold
}

func (dogVsCatProvider) numSamples(split, _ string) (int, error) {
	count := 0
	for label := range dogVsCatSubDirs {
		for index := 0; index < dogVsCatMaxIndex; index++ {
			if dogVsCatInSplit(split, label, index) {
				count++
			}
		}
	}
	return count, nil
}

func (dogVsCatProvider) download(dir string) error {
	return data.DownloadAndUnzipIfMissing(dogVsCatURL,
		path.Join(dir, dogVsCatZipFile), dir, path.Join(dir, dogVsCatZipDir), dogVsCatZipHash)
}

func (dogVsCatProvider) open(d *Descriptor, batchSize int) (train.Dataset, error) {
	if !data.FileExists(path.Join(d.Dir, dogVsCatZipDir)) {
		return nil, errors.Errorf("dog-vs-cat images not found under %q (run download first?)",
			path.Join(d.Dir, dogVsCatZipDir))
	}
	ds := &dogVsCatDataset{
		desc:      d,
		batchSize: batchSize,
		toTensor:  timage.ToTensor(dtypes.Float32),
	}
	for label := range dogVsCatSubDirs {
		for index := 0; index < dogVsCatMaxIndex; index++ {
			if dogVsCatInSplit(d.Split, label, index) {
				ds.samples = append(ds.samples, dogVsCatSample{label: int32(label), index: index})
			}
		}
	}
	return ds, nil
}

type dogVsCatSample struct {
	label int32
	index int
}

// dogVsCatDataset reads, decodes and resizes images on demand, so it is
// usually wrapped in a parallelized dataset. Yield is safe for concurrent
// use.
type dogVsCatDataset struct {
	desc      *Descriptor
	batchSize int
	toTensor  *timage.ToTensorConfig

	mu       sync.Mutex
	position int
	samples  []dogVsCatSample
}

var _ train.Dataset = (*dogVsCatDataset)(nil)

func (ds *dogVsCatDataset) Name() string {
	return ds.desc.Name + "/" + ds.desc.Split
}

// take reserves the next batch of samples under the lock; decoding happens
// outside it.
func (ds *dogVsCatDataset) take() []dogVsCatSample {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.position >= len(ds.samples) {
		return nil
	}
	start := ds.position
	end := min(start+ds.batchSize, len(ds.samples))
	ds.position = end
	return ds.samples[start:end]
}

// Yield implements train.Dataset.
func (ds *dogVsCatDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	batch := ds.take()
	if len(batch) == 0 {
		return nil, nil, nil, io.EOF
	}
	images := make([]image.Image, 0, len(batch))
	labelValues := make([]int32, 0, len(batch))
	for _, sample := range batch {
		img, err := ds.loadImage(sample)
		if err != nil {
			return nil, nil, nil, err
		}
		images = append(images, img)
		labelValues = append(labelValues, sample.label)
	}
	return ds,
		[]*tensors.Tensor{ds.toTensor.Batch(images)},
		[]*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelValues, len(labelValues), 1)},
		nil
}

func (ds *dogVsCatDataset) loadImage(sample dogVsCatSample) (image.Image, error) {
	filePath := path.Join(ds.desc.Dir, dogVsCatZipDir,
		dogVsCatSubDirs[sample.label], fmt.Sprintf("%d.jpg", sample.index))
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %q", filePath)
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image %q", filePath)
	}
	// All images in a batch must share dimensions.
	size := ds.desc.ImageSize
	return imaging.Resize(img, size, size, imaging.Linear), nil
}

// Reset implements train.Dataset.
func (ds *dogVsCatDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.position = 0
}
