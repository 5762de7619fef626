package export

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/types/tensors"
	timage "github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/TuKJet/models/nets"
	"github.com/TuKJet/models/preprocessing"
)

// Predictor serves an exported bundle: it rebuilds the serving graph from
// the bundle's variables and signature and answers Predict calls.
type Predictor struct {
	backend backends.Backend
	ctx     *context.Context
	exec    *context.Exec
	sig     *Signature
}

// NewPredictor loads a saved_model bundle directory.
func NewPredictor(backend backends.Backend, bundleDir string) (*Predictor, error) {
	sig, err := ReadSignature(path.Join(bundleDir, SignatureFile))
	if err != nil {
		return nil, err
	}
	network, err := nets.Get(sig.Model)
	if err != nil {
		return nil, errors.Wrapf(err, "bundle %q", bundleDir)
	}
	preprocess, err := preprocessing.Get(sig.Preprocessing)
	if err != nil {
		return nil, errors.Wrapf(err, "bundle %q", bundleDir)
	}
	numClasses := sig.Outputs["logits"].Shape[1]

	p := &Predictor{backend: backend, ctx: context.New(), sig: sig}
	if _, err := checkpoints.Load(p.ctx).Dir(bundleDir).Done(); err != nil {
		return nil, errors.WithMessagef(err, "failed loading bundle variables from %q", bundleDir)
	}
	// All variables come from the bundle: creating a new one is an error.
	p.ctx = p.ctx.Reuse()

	p.exec = context.NewExec(backend, p.ctx, func(ctx *context.Context, images *Node) []*Node {
		logits := buildServingGraph(ctx, images, network, preprocess,
			sig.ImageSize, sig.UseGrayscale, numClasses)
		classes := ArgMax(logits, -1, dtypes.Int32)
		return []*Node{classes, logits}
	})
	return p, nil
}

// Signature returns the bundle's serving signature.
func (p *Predictor) Signature() *Signature {
	return p.sig
}

// LabelName returns the name of a predicted class, or "unknown" if the
// bundle carries no label names.
func (p *Predictor) LabelName(class int32) string {
	if int(class) < len(p.sig.LabelNames) {
		return p.sig.LabelNames[class]
	}
	return "unknown"
}

// Predict runs the bundle on a raw image batch, float32
// [batch, height, width, 3] in [0, 1], and returns the predicted classes
// ([batch] int32) and logits ([batch, numClasses] float32).
func (p *Predictor) Predict(images *tensors.Tensor) (classes, logits *tensors.Tensor, err error) {
	var outputs []*tensors.Tensor
	err = exceptions.TryCatch[error](func() { outputs = p.exec.Call(images) })
	if err != nil {
		return nil, nil, err
	}
	return outputs[0], outputs[1], nil
}

// PredictImages runs the bundle on decoded images, resizing each to the
// signature's resolution.
func (p *Predictor) PredictImages(imgs []image.Image) (classes, logits *tensors.Tensor, err error) {
	resized := make([]image.Image, len(imgs))
	for i, img := range imgs {
		resized[i] = imaging.Resize(img, p.sig.ImageSize, p.sig.ImageSize, imaging.Linear)
	}
	return p.Predict(timage.ToTensor(dtypes.Float32).Batch(resized))
}

// PredictEncoded runs the bundle on encoded (JPEG/PNG) images, the
// EncodedImageInput serving mode: decoding happens host-side before
// inference.
func (p *Predictor) PredictEncoded(encoded [][]byte) (classes, logits *tensors.Tensor, err error) {
	if p.sig.InputType != EncodedImageInput {
		return nil, nil, errors.Errorf("bundle was exported with input type %q, not %q",
			p.sig.InputType, EncodedImageInput)
	}
	imgs := make([]image.Image, len(encoded))
	for i, data := range encoded {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "decoding image %d of %d", i, len(encoded))
		}
		imgs[i] = img
	}
	return p.PredictImages(imgs)
}
