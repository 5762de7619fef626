// Package ema maintains exponential moving averages of model variables:
// each variable under the model scope gets a shadow variable updated as
//
//	shadow = decay*shadow + (1-decay)*value
//
// on every training step. For evaluation and export the shadow values can be
// substituted into the live variables, which usually generalize slightly
// better than the raw trained values.
package ema

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"
)

// Scope is the absolute context scope holding the shadow variables. Shadows
// mirror the variable's scope under it, so "/model/conv_0/weights" gets its
// shadow at "/moving_averages/model/conv_0/weights".
const Scope = "/moving_averages"

// UpdateGraph blends the shadow variables towards the trainable variables
// under modelScope, as part of the graph being built. Shadows are created on
// first use, initialized to the variable's current value.
//
// Call it from the model graph function during training, after the layers
// created their variables.
func UpdateGraph(ctx *context.Context, g *Graph, modelScope string, decay float64) {
	if decay >= 1 {
		return
	}
	modelCtx := ctx.InAbsPath(modelScope)
	modelCtx.EnumerateVariablesInScope(func(v *context.Variable) {
		if !v.Trainable {
			return
		}
		shadowCtx := ctx.InAbsPath(Scope + v.Scope()).Checked(false)
		shadow := shadowCtx.VariableWithValue(v.Name(), v.Value()).SetTrainable(false)
		blended := Add(
			MulScalar(v.ValueGraph(g), 1.0-decay),
			MulScalar(shadow.ValueGraph(g), decay))
		shadow.SetValueGraph(blended)
	})
}

// MaterializeGraph creates the shadow variables without updating them, so a
// checkpoint's moving averages become available host-side after one graph
// build. Used when a graph is rebuilt only to restore from a checkpoint.
func MaterializeGraph(ctx *context.Context, modelScope string) {
	modelCtx := ctx.InAbsPath(modelScope)
	modelCtx.EnumerateVariablesInScope(func(v *context.Variable) {
		if !v.Trainable {
			return
		}
		shadowCtx := ctx.InAbsPath(Scope + v.Scope()).Checked(false)
		shadowCtx.VariableWithValue(v.Name(), v.Value()).SetTrainable(false)
	})
}

// Restore copies every shadow value over its live variable, host-side. It
// returns the number of variables substituted; an error if a shadow has no
// live counterpart or if there are no shadows at all.
func Restore(ctx *context.Context) (int, error) {
	count := 0
	var err error
	ctx.InAbsPath(Scope).EnumerateVariablesInScope(func(shadow *context.Variable) {
		if err != nil {
			return
		}
		liveScope := shadow.Scope()[len(Scope):]
		live := ctx.InspectVariable(liveScope, shadow.Name())
		if live == nil {
			err = errors.Errorf("moving average %q::%q has no live variable at %q",
				shadow.Scope(), shadow.Name(), liveScope)
			return
		}
		live.SetValue(shadow.Value())
		count++
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, errors.Errorf("no moving average variables found under %q", Scope)
	}
	return count, nil
}

// Strip removes all shadow variables from the context, so they are not
// carried into inference-only checkpoints.
func Strip(ctx *context.Context) error {
	return ctx.InAbsPath(Scope).DeleteVariablesInScope()
}
