package inceptionv3

import (
	"path"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/data/hdf5"
	"k8s.io/klog/v2"
)

const (
	// WeightsURL is the URL of the Keras ImageNet weights, including the top
	// 1000-classes layer.
	WeightsURL = "https://storage.googleapis.com/tensorflow/keras-applications/inception_v3/inception_v3_weights_tf_dim_ordering_tf_kernels.h5"

	// WeightsH5Checksum is the SHA256 checksum of the weights file.
	WeightsH5Checksum = "00c9ea4e4762f716ac4d300d6d9c2935639cc5e4d139b5790d765dcbeea539d0"

	// WeightsH5Name is the local file name of the downloaded weights.
	WeightsH5Name = "weights.h5"

	// UnpackedWeightsName is the subdirectory holding the unpacked tensors.
	UnpackedWeightsName = "gomlx_weights"
)

// DownloadAndUnpackWeights downloads the Keras pre-trained weights to
// baseDir and unpacks the ".h5" file to one tensor file per layer. It is a
// no-op if the unpacked weights are already there.
func DownloadAndUnpackWeights(baseDir string) error {
	baseDir = data.ReplaceTildeInDir(baseDir)
	unpackedWeightsPath := path.Join(baseDir, UnpackedWeightsName)
	if data.FileExists(unpackedWeightsPath) {
		return nil
	}

	weightsH5Path := path.Join(baseDir, WeightsH5Name)
	if err := data.DownloadIfMissing(WeightsURL, weightsH5Path, WeightsH5Checksum); err != nil {
		return err
	}
	klog.Infof("Unpacking InceptionV3 weights to %s", unpackedWeightsPath)
	return hdf5.UnpackToTensors(unpackedWeightsPath, weightsH5Path).ProgressBar().Done()
}
