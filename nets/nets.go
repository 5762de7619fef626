// Package nets provides the network factory: named image-classification
// model graphs selected by the drivers.
//
// Each network builds its forward pass under the context scope it is given
// (the drivers use "/model") and returns logits shaped
// [batch, numClasses]. Preprocessing is not part of the network, the drivers
// compose it from the preprocessing factory using the network's declared
// recipe and input resolution.
package nets

import (
	"slices"
	"strings"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"
)

// BuildFn builds a network's forward pass and returns the logits.
type BuildFn func(ctx *context.Context, images *Node, numClasses int) *Node

// Network describes one entry of the factory.
type Network struct {
	Name string

	// DefaultImageSize is the input resolution the network was designed for,
	// used when the driver has no explicit image size override.
	DefaultImageSize int

	// MinImageSize is the smallest input resolution the graph supports.
	MinImageSize int

	// Preprocessing is the name of the preprocessing recipe that matches
	// this network.
	Preprocessing string

	Build BuildFn
}

var registry = map[string]*Network{
	"lenet": {
		Name:             "lenet",
		DefaultImageSize: 28,
		MinImageSize:     16,
		Preprocessing:    "lenet",
		Build:            lenetGraph,
	},
	"cnn": {
		Name:             "cnn",
		DefaultImageSize: 32,
		MinImageSize:     16,
		Preprocessing:    "cnn",
		Build:            cnnGraph,
	},
	"inception_v3": {
		Name:             "inception_v3",
		DefaultImageSize: 299,
		MinImageSize:     75,
		Preprocessing:    "inception",
		Build:            inceptionV3Graph,
	},
}

// Names returns the supported network names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get returns the named network.
func Get(name string) (*Network, error) {
	n, found := registry[name]
	if !found {
		return nil, errors.Errorf("unknown model %q, valid values are %s",
			name, strings.Join(Names(), ", "))
	}
	return n, nil
}
