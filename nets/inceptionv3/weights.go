package inceptionv3

import (
	"fmt"
	"path"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
)

// kerasWeights maps layers to the tensors unpacked from the Keras ".h5"
// file. The mapping relies on layers being created in the exact order Keras
// created them, so each nextConv2DScope / nextBatchNormScope call advances a
// counter matching the Keras layer names.
type kerasWeights struct {
	baseDir      string
	channelsAxis int

	conv2dCount, batchNormCount int
}

// loadTensorToVariable initializes the variable from the unpacked tensor
// file, unless it was already created (a reused scope). It panics if the
// tensor file cannot be read.
func (kw *kerasWeights) loadTensorToVariable(ctx *context.Context, tensorFileName, variableName string) {
	if ctx.InspectVariable(ctx.Scope(), variableName) != nil {
		return
	}
	tensorPath := path.Join(kw.baseDir, UnpackedWeightsName, tensorFileName)
	local, err := tensors.Load(tensorPath)
	if err != nil {
		Panicf("failed to read InceptionV3 weights from %q (call DownloadAndUnpackWeights first?): %v",
			tensorPath, err)
	}
	_ = ctx.VariableWithValue(variableName, local)
}

// nextConv2DScope enters the scope of the next convolution layer and, if
// pre-trained weights are configured, loads its kernel.
func (kw *kerasWeights) nextConv2DScope(ctx *context.Context) *context.Context {
	if kw.conv2dCount == 0 {
		ctx = ctx.In("conv2d")
	} else {
		ctx = ctx.In(fmt.Sprintf("conv2d_%d", kw.conv2dCount))
	}
	kw.conv2dCount++
	if kw.baseDir == "" {
		return ctx
	}

	// Tensor names inside the h5 file are 1-indexed.
	h5Name := fmt.Sprintf("conv2d_%d/conv2d_%d/kernel:0", kw.conv2dCount, kw.conv2dCount)
	kw.loadTensorToVariable(ctx, h5Name, "weights")
	return ctx.Reuse()
}

// nextBatchNormScope enters the scope of the next batch normalization layer
// and, if pre-trained weights are configured, loads its moments and offset.
func (kw *kerasWeights) nextBatchNormScope(ctx *context.Context) *context.Context {
	if kw.batchNormCount == 0 {
		ctx = ctx.In("batch_normalization")
	} else {
		ctx = ctx.In(fmt.Sprintf("batch_normalization_%d", kw.batchNormCount))
	}
	kw.batchNormCount++
	if kw.baseDir == "" {
		return ctx
	}

	h5Group := fmt.Sprintf("batch_normalization_%d/batch_normalization_%d/", kw.conv2dCount, kw.conv2dCount)
	kw.loadTensorToVariable(ctx, h5Group+"moving_mean:0", "mean")
	kw.loadTensorToVariable(ctx, h5Group+"moving_variance:0", "variance")
	kw.loadTensorToVariable(ctx, h5Group+"beta:0", "offset")

	// Batch normalization creates extra variables beyond the loaded ones, so
	// the scope cannot be marked for strict reuse.
	return ctx.Checked(false)
}
