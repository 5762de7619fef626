package nets

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers/fnn"

	"github.com/TuKJet/models/nets/inceptionv3"
)

// inceptionV3Graph builds the InceptionV3 trunk with an FNN readout on top.
// Context hyperparameters:
//
//	"data_dir":             where pre-trained weights were downloaded.
//	"inception_pretrained": initialize the trunk from the Keras weights (default true).
//	"inception_finetuning": keep the trunk trainable (default false).
func inceptionV3Graph(ctx *context.Context, images *Node, numClasses int) *Node {
	var preTrainedPath string
	if context.GetParamOr(ctx, "inception_pretrained", true) {
		preTrainedPath = context.GetParamOr(ctx, "data_dir", ".")
	}
	features := inceptionv3.BuildGraph(ctx.In("inception_v3"), images).
		PreTrained(preTrainedPath).
		SetPooling(inceptionv3.MaxPooling).
		Trainable(context.GetParamOr(ctx, "inception_finetuning", false)).
		Done()
	return fnn.New(ctx.In("readout"), features, numClasses).Done()
}
