package stageflow

import (
	"context"
	"fmt"
)

// HookPipeline resolves hook names against the registry and runs them in
// declaration order with the current context.
type HookPipeline struct {
	registry *Registry
	logger   Logger
}

func newHookPipeline(registry *Registry, logger Logger) *HookPipeline {
	return &HookPipeline{registry: registry, logger: logger}
}

// Run executes the named hooks sequentially. The first failure, whether
// a missing name or a hook error, short-circuits the rest.
func (p *HookPipeline) Run(ctx context.Context, sc *Context, names []string) error {
	for _, name := range names {
		hook, err := p.registry.Hook(name)
		if err != nil {
			return err
		}
		if err := hook(ctx, sc); err != nil {
			return fmt.Errorf("hook %q: %w", name, err)
		}
	}
	return nil
}

// RunDetached fires the named hooks without awaiting completion.
// Before-hooks are best-effort side effects; routing never blocks on
// them and failures are only logged. Callers must not rely on the hooks
// having finished, or having run at all, when rendering starts.
func (p *HookPipeline) RunDetached(ctx context.Context, sc *Context, names []string) {
	if len(names) == 0 {
		return
	}
	go func() {
		if err := p.Run(ctx, sc, names); err != nil {
			p.logger.Error("before-hook pipeline for %s failed: %v", sc.Stage.URI, err)
		}
	}()
}

// WrapEnd wraps a turn's terminal continuation so the named after-hooks
// run first. A failing after-hook intercepts the continuation: the
// captured logic does not execute.
func (p *HookPipeline) WrapEnd(sc *Context, names []string, end Continuation) Continuation {
	if len(names) == 0 || end == nil {
		return end
	}
	return func(ctx context.Context, response string) {
		if err := p.Run(ctx, sc, names); err != nil {
			p.logger.Error("after-hook pipeline for %s failed: %v", sc.Stage.URI, err)
			return
		}
		end(ctx, response)
	}
}
