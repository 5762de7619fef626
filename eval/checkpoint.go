package eval

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"

	"github.com/TuKJet/models/ema"
)

// LoadCheckpoint attaches a checkpoint handler to the context. If
// checkpointPath is a directory the latest checkpoint in it is loaded; if it
// is a file (the ".json" or ".bin" of a saved checkpoint, or their common
// base path) that exact checkpoint is loaded.
func LoadCheckpoint(ctx *context.Context, checkpointPath string) (*checkpoints.Handler, error) {
	checkpointPath = data.ReplaceTildeInDir(checkpointPath)
	info, err := os.Stat(checkpointPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking checkpoint path %q", checkpointPath)
	}
	if err == nil && info.IsDir() {
		return checkpoints.Build(ctx).Dir(checkpointPath).Done()
	}
	return loadExactCheckpoint(ctx, checkpointPath)
}

// loadExactCheckpoint loads one specific checkpoint. The handler only knows
// how to load the latest checkpoint of a directory, so the checkpoint's file
// pair is copied to a temporary directory holding only it.
func loadExactCheckpoint(ctx *context.Context, checkpointPath string) (*checkpoints.Handler, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(checkpointPath, ".json"), ".bin")
	jsonPath, binPath := base+".json", base+".bin"
	for _, p := range []string{jsonPath, binPath} {
		if !data.FileExists(p) {
			return nil, errors.Errorf("checkpoint %q not found: missing %q", checkpointPath, p)
		}
	}

	tempDir, err := os.MkdirTemp("", "eval_checkpoint_")
	if err != nil {
		return nil, errors.Wrap(err, "creating temporary checkpoint directory")
	}
	for _, p := range []string{jsonPath, binPath} {
		if err := copyFile(p, path.Join(tempDir, path.Base(p))); err != nil {
			return nil, err
		}
	}
	return checkpoints.Build(ctx).Dir(tempDir).Done()
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return errors.Wrapf(err, "opening %q", from)
	}
	defer func() { _ = src.Close() }()
	dst, err := os.Create(to)
	if err != nil {
		return errors.Wrapf(err, "creating %q", to)
	}
	if _, err = io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return errors.Wrapf(err, "copying %q to %q", from, to)
	}
	return errors.Wrapf(dst.Close(), "closing %q", to)
}

// snapshotLoadedVariables returns the parameter names the handler loaded
// from the checkpoint. The handler consumes entries as variables get
// created, so the snapshot must be taken before any graph is built.
func snapshotLoadedVariables(handler *checkpoints.Handler) map[string]bool {
	names := make(map[string]bool, len(handler.LoadedVariables()))
	for name := range handler.LoadedVariables() {
		names[name] = true
	}
	return names
}

// LoadedVariableNames returns the parameter names the handler loaded from
// the checkpoint. The handler consumes entries as variables get created, so
// the snapshot must be taken before any graph is built.
func LoadedVariableNames(handler *checkpoints.Handler) map[string]bool {
	return snapshotLoadedVariables(handler)
}

// MissingMovingAverages lists moving-average shadow variables that were not
// supplied by the checkpoint. Materializing the shadows initializes absent
// ones from the live values, so restoring those would substitute the live
// values over themselves.
func MissingMovingAverages(ctx *context.Context, loaded map[string]bool) []string {
	return missingVariables(ctx, loaded, ema.Scope, nil)
}

// missingVariables lists variables under scope that were not present in the
// checkpoint, skipping excluded scopes.
func missingVariables(ctx *context.Context, loaded map[string]bool, scope string, excludeScopes []string) []string {
	var missing []string
	ctx.InAbsPath(scope).EnumerateVariablesInScope(func(v *context.Variable) {
		for _, excluded := range excludeScopes {
			if strings.HasPrefix(v.Scope(), excluded) {
				return
			}
		}
		if !loaded[v.ParameterName()] {
			missing = append(missing, v.ParameterName())
		}
	})
	sort.Strings(missing)
	return missing
}

// normalizeScope makes a scope absolute.
func normalizeScope(scope string) string {
	if !strings.HasPrefix(scope, "/") {
		return "/" + scope
	}
	return scope
}
