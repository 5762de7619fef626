package eval

import "strings"

// DriverFlags holds the command line selections of the evaluation driver
// that need resolving before use.
type DriverFlags struct {
	// DataPath and OutputPath are legacy aliases for DatasetDir and EvalDir.
	DataPath   string
	OutputPath string

	DatasetDir  string
	EvalDir     string
	DatasetName string
	SplitName   string
	ModelName   string
}

// ResolveAliases applies the legacy flag aliases, in place. A non-empty
// DataPath overrides DatasetDir and, when it mentions "dog", also forces the
// dog-vs-cat validation setup. A non-empty OutputPath overrides EvalDir.
func (f *DriverFlags) ResolveAliases() {
	if f.DataPath != "" {
		f.DatasetDir = f.DataPath
		if strings.Contains(f.DataPath, "dog") {
			f.DatasetName = "dog-vs-cat"
			f.SplitName = "validation"
			f.ModelName = "inception_v3"
		}
	}
	if f.OutputPath != "" {
		f.EvalDir = f.OutputPath
	}
}
