package datasets

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/pkg/errors"
)

// CIFAR-10 and CIFAR-100 in the original binary format described in
// https://www.cs.toronto.edu/~kriz/cifar.html. Each record is one label byte
// (two for CIFAR-100: coarse then fine) followed by 3072 bytes of pixels in
// channel-planar order (1024 red, 1024 green, 1024 blue).

const (
	cifar10URL     = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	cifar10TarName = "cifar-10-binary.tar.gz"
	cifar10SubDir  = "cifar-10-batches-bin"
	cifar10Hash    = "c4a38c50a1bc5f3a1c5537f2155ab9d68f9f25eb1ed8d9ddda3db29a59bca1dd"

	cifar100URL     = "https://www.cs.toronto.edu/~kriz/cifar-100-binary.tar.gz"
	cifar100TarName = "cifar-100-binary.tar.gz"
	cifar100SubDir  = "cifar-100-binary"
	cifar100Hash    = "58a81ae192c23a4be8b1804d68e518ed807d710a4eb253b1f2a199162a40d8ec"

	cifarImageSize  = 32
	cifarDepth      = 3
	cifarPixelBytes = cifarImageSize * cifarImageSize * cifarDepth

	cifarTrainSamples = 50000
	cifarTestSamples  = 10000
)

var (
	Cifar10Labels = []string{"airplane", "automobile", "bird", "cat", "deer", "dog", "frog", "horse", "ship", "truck"}

	Cifar100FineLabels = []string{"apple", "aquarium_fish", "baby", "bear", "beaver", "bed", "bee", "beetle", "bicycle",
		"bottle", "bowl", "boy", "bridge", "bus", "butterfly", "camel", "can", "castle", "caterpillar", "cattle",
		"chair", "chimpanzee", "clock", "cloud", "cockroach", "couch", "crab", "crocodile", "cup", "dinosaur",
		"dolphin", "elephant", "flatfish", "forest", "fox", "girl", "hamster", "house", "kangaroo", "keyboard", "lamp",
		"lawn_mower", "leopard", "lion", "lizard", "lobster", "man", "maple_tree", "motorcycle", "mountain", "mouse",
		"mushroom", "oak_tree", "orange", "orchid", "otter", "palm_tree", "pear", "pickup_truck", "pine_tree", "plain",
		"plate", "poppy", "porcupine", "possum", "rabbit", "raccoon", "ray", "road", "rocket", "rose", "sea", "seal",
		"shark", "shrew", "skunk", "skyscraper", "snail", "snake", "spider", "squirrel", "streetcar", "sunflower",
		"sweet_pepper", "table", "tank", "telephone", "television", "tiger", "tractor", "train", "trout", "tulip",
		"turtle", "wardrobe", "whale", "willow_tree", "wolf", "woman", "worm"}
)

type cifarVariant int

const (
	cifar10 cifarVariant = iota
	cifar100
)

type cifarProvider struct {
	variant cifarVariant
}

func (cifarProvider) numSamples(split, _ string) (int, error) {
	if split == "train" {
		return cifarTrainSamples, nil
	}
	return cifarTestSamples, nil
}

func (p cifarProvider) download(dir string) error {
	if p.variant == cifar10 {
		return data.DownloadAndUntarIfMissing(cifar10URL, dir, cifar10TarName, cifar10SubDir, cifar10Hash)
	}
	return data.DownloadAndUntarIfMissing(cifar100URL, dir, cifar100TarName, cifar100SubDir, cifar100Hash)
}

// splitFiles returns the binary files making up the split, in order.
func (p cifarProvider) splitFiles(dir, split string) []string {
	if p.variant == cifar10 {
		if split == "train" {
			files := make([]string, 5)
			for i := range files {
				files[i] = path.Join(dir, cifar10SubDir, fmt.Sprintf("data_batch_%d.bin", i+1))
			}
			return files
		}
		return []string{path.Join(dir, cifar10SubDir, "test_batch.bin")}
	}
	if split == "train" {
		return []string{path.Join(dir, cifar100SubDir, "train.bin")}
	}
	return []string{path.Join(dir, cifar100SubDir, "test.bin")}
}

func (p cifarProvider) open(d *Descriptor, batchSize int) (train.Dataset, error) {
	numSamples, _ := p.numSamples(d.Split, d.Dir)
	flat := make([]float32, 0, numSamples*cifarPixelBytes)
	labels := make([]int32, 0, numSamples)

	// CIFAR-100 records carry a coarse label byte before the fine label.
	labelBytes := 1
	if p.variant == cifar100 {
		labelBytes = 2
	}
	record := make([]byte, labelBytes+cifarPixelBytes)
	for _, file := range p.splitFiles(d.Dir, d.Split) {
		f, err := os.Open(file)
		if err != nil {
			return nil, errors.Wrapf(err, "opening CIFAR file %q (run download first?)", file)
		}
		for {
			if _, err := io.ReadFull(f, record); err == io.EOF {
				break
			} else if err != nil {
				_ = f.Close()
				return nil, errors.Wrapf(err, "reading CIFAR record from %q", file)
			}
			labels = append(labels, int32(record[labelBytes-1]))
			flat = appendCifarPixels(flat, record[labelBytes:])
		}
		_ = f.Close()
	}
	if len(labels) != numSamples {
		return nil, errors.Errorf("CIFAR %s/%s: read %d samples, expected %d",
			d.Name, d.Split, len(labels), numSamples)
	}
	return newInMemory(d.Name+"/"+d.Split, flat, labels,
		cifarImageSize, cifarImageSize, cifarDepth, batchSize), nil
}

// appendCifarPixels converts one record's channel-planar pixels to
// channels-last float32 in [0, 1].
func appendCifarPixels(flat []float32, pixels []byte) []float32 {
	const plane = cifarImageSize * cifarImageSize
	for h := 0; h < cifarImageSize; h++ {
		for w := 0; w < cifarImageSize; w++ {
			for c := 0; c < cifarDepth; c++ {
				flat = append(flat, float32(pixels[c*plane+h*cifarImageSize+w])/255)
			}
		}
	}
	return flat
}
