package preprocessing

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"
)

func TestGet(t *testing.T) {
	for _, name := range []string{"inception", "lenet", "cnn"} {
		fn, err := Get(name)
		require.NoError(t, err)
		assert.NotNil(t, fn)
	}

	// Model family aliases.
	fn, err := Get("inception_v3")
	require.NoError(t, err)
	assert.NotNil(t, fn)

	_, err = Get("vgg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown preprocessing")
}

func TestToFloat(t *testing.T) {
	graphtest.RunTestGraphFn(t, "ToFloat",
		func(g *Graph) (inputs, outputs []*Node) {
			fromBytes := ToFloat(Const(g, []uint8{0, 128, 255}))
			fromFloats := ToFloat(Const(g, []float64{0, 0.5, 1}))
			inputs = nil
			outputs = []*Node{fromBytes, fromFloats}
			return
		}, []any{
			[]float32{0, 128.0 / 255.0, 1},
			[]float32{0, 0.5, 1},
		}, 1e-6)
}

func TestGrayscale(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Grayscale",
		func(g *Graph) (inputs, outputs []*Node) {
			red := Const(g, [][][][]float32{{{{1, 0, 0}}}})
			outputs = []*Node{Grayscale(red)}
			return
		}, []any{
			[][][][]float32{{{{0.299, 0.299, 0.299}}}},
		}, 1e-6)

	graphtest.RunTestGraphFn(t, "Grayscale of single channel is a no-op",
		func(g *Graph) (inputs, outputs []*Node) {
			mono := Const(g, [][][][]float32{{{{0.7}}}})
			outputs = []*Node{Grayscale(mono)}
			return
		}, []any{
			[][][][]float32{{{{0.7}}}},
		}, 0)
}

func TestCentralCrop(t *testing.T) {
	graphtest.RunTestGraphFn(t, "CentralCrop",
		func(g *Graph) (inputs, outputs []*Node) {
			images := Iota(g, shapes.Make(dtypes.Float32, 1, 4, 4, 1), 1)
			cropped := CentralCrop(images, 0.5)
			full := CentralCrop(images, 1.0)
			outputs = []*Node{cropped, full}
			return
		}, []any{
			// Rows 1 and 2 of the Iota over the height axis.
			[][][][]float32{{{{1}, {1}}, {{2}, {2}}}},
			shapes.Make(dtypes.Float32, 1, 4, 4, 1),
		}, 0)
}

func TestRecipes(t *testing.T) {
	graphtest.RunTestGraphFn(t, "simplePreprocess",
		func(g *Graph) (inputs, outputs []*Node) {
			// A black uint8 pixel batch: after scaling to [-1, 1] everything
			// is -1.
			images := Zeros(g, shapes.Make(dtypes.Uint8, 1, 1, 1, 3))
			resized := Zeros(g, shapes.Make(dtypes.Uint8, 2, 4, 4, 3))
			outputs = []*Node{
				simplePreprocess(images, 1, 1, Options{}),
				simplePreprocess(resized, 8, 8, Options{}),
			}
			return
		}, []any{
			[][][][]float32{{{{-1, -1, -1}}}},
			shapes.Make(dtypes.Float32, 2, 8, 8, 3),
		}, 1e-6)

	graphtest.RunTestGraphFn(t, "inceptionPreprocess shape",
		func(g *Graph) (inputs, outputs []*Node) {
			images := Zeros(g, shapes.Make(dtypes.Uint8, 1, 32, 32, 3))
			outputs = []*Node{inceptionPreprocess(images, 16, 16, Options{UseGrayscale: true})}
			return
		}, []any{
			shapes.Make(dtypes.Float32, 1, 16, 16, 3),
		}, 1e-6)
}

func TestFakeQuantize(t *testing.T) {
	graphtest.RunTestGraphFn(t, "FakeQuantize",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, []float32{0, 0.1, 0.9, 1.0})
			outputs = []*Node{FakeQuantize(x, 2)}
			return
		}, []any{
			[]float32{0, 0, 1, 1},
		}, 1e-6)
}
