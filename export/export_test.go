package export

import (
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ModelName:  "lenet",
		NumClasses: 10,
		InputType:  ImageTensorInput,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.InputType = "tf_example"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown input type")

	cfg = validConfig()
	cfg.InputType = EncodedImageInput
	require.NoError(t, cfg.Validate())
	cfg.InputShape = []int{1, 28, 28, 3}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input shape can only be given")

	cfg = validConfig()
	cfg.InputShape = []int{28, 28, 3}
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.InputShape = []int{1, 28, 32, 3}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "square")

	cfg = validConfig()
	cfg.InputShape = []int{1, 28, 28, 1}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 channels")

	cfg = validConfig()
	cfg.NumClasses = 1
	require.Error(t, cfg.Validate())
}

func TestSignature(t *testing.T) {
	cfg := validConfig()
	cfg.LabelNames = []string{"0", "1"}
	sig := cfg.signature("lenet", 28, 1)
	assert.Equal(t, PredictMethod, sig.Method)
	assert.Equal(t, "lenet", sig.Model)
	assert.Equal(t, 28, sig.ImageSize)
	// Without an explicit input shape the batch dimension stays dynamic.
	assert.Equal(t, []int{-1, 28, 28, 3}, sig.Inputs["inputs"].Shape)
	assert.Equal(t, []int{-1}, sig.Outputs["classes"].Shape)
	assert.Equal(t, []int{-1, 10}, sig.Outputs["logits"].Shape)

	cfg.InputShape = []int{4, 28, 28, 3}
	sig = cfg.signature("lenet", 28, 4)
	assert.Equal(t, []int{4, 28, 28, 3}, sig.Inputs["inputs"].Shape)

	cfg = validConfig()
	cfg.InputType = EncodedImageInput
	sig = cfg.signature("lenet", 28, 1)
	assert.Equal(t, "bytes", sig.Inputs["inputs"].DType)
	assert.Equal(t, []int{-1}, sig.Inputs["inputs"].Shape)
}

func TestSignatureRoundTrip(t *testing.T) {
	filePath := path.Join(t.TempDir(), SignatureFile)
	cfg := validConfig()
	cfg.UseGrayscale = true
	cfg.LabelNames = []string{"cat", "dog"}
	want := cfg.signature("inception", 299, 1)
	require.NoError(t, WriteSignature(filePath, want))

	got, err := ReadSignature(filePath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadSignatureRejectsUnknownMethod(t *testing.T) {
	filePath := path.Join(t.TempDir(), SignatureFile)
	sig := validConfig().signature("lenet", 28, 1)
	sig.Method = "classify"
	require.NoError(t, WriteSignature(filePath, sig))
	_, err := ReadSignature(filePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported method")
}

func TestRunValidatesFirst(t *testing.T) {
	cfg := validConfig()
	cfg.NumClasses = 0
	require.Error(t, cfg.Run(nil, nil))
}
