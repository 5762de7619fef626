package export

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Input modes of an exported bundle.
const (
	// ImageTensorInput serves raw image batches, float32 [batch, h, w, 3].
	ImageTensorInput = "image_tensor"

	// EncodedImageInput serves batches of encoded (JPEG/PNG) image bytes,
	// decoded host-side before inference.
	EncodedImageInput = "encoded_image_string_tensor"
)

// SignatureFile is the name of the signature inside a bundle directory.
const SignatureFile = "signature.json"

// PredictMethod is the only serving method exported bundles support.
const PredictMethod = "predict"

// TensorSpec describes one signature input or output.
type TensorSpec struct {
	DType string `json:"dtype"`
	// Shape dimensions, -1 for the dynamic batch dimension.
	Shape []int `json:"shape"`
}

// Signature describes how to serve an exported bundle: what the model is,
// what it takes and what it returns.
type Signature struct {
	Method string `json:"method_name"`

	// Model identifies the network to rebuild from the bundle's variables.
	Model string `json:"model"`

	// InputType is ImageTensorInput or EncodedImageInput.
	InputType string `json:"input_type"`

	// ImageSize is the input resolution the graph was exported for.
	ImageSize int `json:"image_size"`

	// Preprocessing recipe baked into the serving graph.
	Preprocessing string `json:"preprocessing"`

	UseGrayscale bool `json:"use_grayscale,omitempty"`

	Inputs  map[string]TensorSpec `json:"inputs"`
	Outputs map[string]TensorSpec `json:"outputs"`

	// LabelNames maps predicted classes to names, when known.
	LabelNames []string `json:"label_names,omitempty"`
}

// WriteSignature saves the signature as JSON.
func WriteSignature(filePath string, sig *Signature) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sig); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing %q", filePath)
}

// ReadSignature loads a bundle's signature.
func ReadSignature(filePath string) (*Signature, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", filePath)
	}
	defer func() { _ = f.Close() }()
	sig := &Signature{}
	if err := json.NewDecoder(f).Decode(sig); err != nil {
		return nil, errors.Wrapf(err, "parsing %q", filePath)
	}
	if sig.Method != PredictMethod {
		return nil, errors.Errorf("unsupported method %q in %q, only %q is supported",
			sig.Method, filePath, PredictMethod)
	}
	return sig, nil
}
