// Package preprocessing provides the preprocessing factory: named recipes
// that adapt a batch of images to what a network expects.
//
// All recipes take images shaped [batch, height, width, channels], either
// uint8 in [0, 255] or float in [0, 1], and produce float32 images resized
// to the target resolution and scaled to [-1, 1].
package preprocessing

import (
	"slices"
	"strings"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Options adjust a preprocessing recipe.
type Options struct {
	// UseGrayscale converts images to luminance-only. The channel count is
	// preserved so the network input shape does not change.
	UseGrayscale bool

	// CentralCropFraction overrides the recipe's central crop. 0 means the
	// recipe default, 1 disables cropping.
	CentralCropFraction float64
}

// Fn is a preprocessing recipe: it transforms an image batch node to the
// network's expected input, resizing to height x width.
type Fn func(images *Node, height, width int, opts Options) *Node

const inceptionCropFraction = 0.875

var recipes = map[string]Fn{
	"inception": inceptionPreprocess,
	"lenet":     simplePreprocess,
	"cnn":       simplePreprocess,
}

// Names returns the supported preprocessing names, sorted.
func Names() []string {
	names := make([]string, 0, len(recipes))
	for name := range recipes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get returns the preprocessing recipe with the given name. Model-family
// aliases are accepted, so "inception_v3" selects "inception".
func Get(name string) (Fn, error) {
	if fn, found := recipes[name]; found {
		return fn, nil
	}
	if idx := strings.IndexByte(name, '_'); idx > 0 {
		if fn, found := recipes[name[:idx]]; found {
			return fn, nil
		}
	}
	return nil, errors.Errorf("unknown preprocessing %q, valid values are %s",
		name, strings.Join(Names(), ", "))
}

// inceptionPreprocess is the Inception-style evaluation recipe: float
// conversion, optional grayscale, central crop, bilinear resize and scaling
// to [-1, 1].
func inceptionPreprocess(images *Node, height, width int, opts Options) *Node {
	x := ToFloat(images)
	if opts.UseGrayscale {
		x = Grayscale(x)
	}
	fraction := opts.CentralCropFraction
	if fraction == 0 {
		fraction = inceptionCropFraction
	}
	x = CentralCrop(x, fraction)
	x = resize(x, height, width)
	return symmetricRange(x)
}

// simplePreprocess converts, optionally grayscales and resizes, without
// cropping.
func simplePreprocess(images *Node, height, width int, opts Options) *Node {
	x := ToFloat(images)
	if opts.UseGrayscale {
		x = Grayscale(x)
	}
	x = resize(x, height, width)
	return symmetricRange(x)
}

// ToFloat converts an image batch to float32 in [0, 1]. Integer inputs are
// assumed to be in [0, 255].
func ToFloat(images *Node) *Node {
	if images.DType().IsFloat() {
		return ConvertDType(images, dtypes.Float32)
	}
	return DivScalar(ConvertDType(images, dtypes.Float32), 255.0)
}

// symmetricRange maps [0, 1] values to [-1, 1].
func symmetricRange(x *Node) *Node {
	return MulScalar(AddScalar(x, -0.5), 2.0)
}

// Grayscale replaces each pixel by its luminance (ITU-R BT.601 weights),
// replicated across the original channels.
func Grayscale(images *Node) *Node {
	channelsAxis := images.Rank() - 1
	numChannels := images.Shape().Dimensions[channelsAxis]
	if numChannels == 1 {
		return images
	}
	g := images.Graph()
	weights := Const(g, []float32{0.299, 0.587, 0.114})
	luminance := ReduceSum(Mul(images, weights), channelsAxis)
	luminance = ExpandAxes(luminance, -1)
	dims := slices.Clone(images.Shape().Dimensions)
	return BroadcastToDims(luminance, dims...)
}

// CentralCrop keeps the central fraction of the spatial dimensions, the same
// fraction on height and width.
func CentralCrop(images *Node, fraction float64) *Node {
	if fraction >= 1 {
		return images
	}
	dims := images.Shape().Dimensions
	height, width := dims[1], dims[2]
	cropHeight := int(float64(height) * fraction)
	cropWidth := int(float64(width) * fraction)
	if cropHeight < 1 || cropWidth < 1 {
		return images
	}
	top := (height - cropHeight) / 2
	left := (width - cropWidth) / 2
	return Slice(images,
		AxisRange(),
		AxisRange(top, top+cropHeight),
		AxisRange(left, left+cropWidth),
		AxisRange())
}

// resize interpolates the spatial dimensions to the target size.
func resize(images *Node, height, width int) *Node {
	dims := images.Shape().Dimensions
	if dims[1] == height && dims[2] == width {
		return images
	}
	return Interpolate(images, -1, height, width, -1).Bilinear().Done()
}

// FakeQuantize rounds values to the given number of discrete levels over
// [min, max] of the batch, approximating the effect of quantized inference.
func FakeQuantize(x *Node, numLevels int) *Node {
	lowest := ReduceAllMin(x)
	highest := ReduceAllMax(x)
	span := Max(Sub(highest, lowest), Scalar(x.Graph(), x.DType(), 1e-6))
	scaled := Div(Sub(x, lowest), span)
	quantized := DivScalar(Round(MulScalar(scaled, float64(numLevels-1))), float64(numLevels-1))
	return Add(Mul(quantized, span), lowest)
}
