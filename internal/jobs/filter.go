package jobs

import (
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/scenecraft/pkg/schema"
)

// filterEnv exposes a job snapshot to list filters, e.g.
// `status == "running" && idle_seconds > 30`.
func filterEnv(info Info, now time.Time) map[string]any {
	return map[string]any{
		"id":           info.ID,
		"status":       info.Status,
		"model":        info.Model,
		"events":       int(info.Events),
		"pending":      info.Pending,
		"subscribed":   info.Subscribed,
		"age_seconds":  now.Sub(info.CreatedAt).Seconds(),
		"idle_seconds": now.Sub(info.LastActivity).Seconds(),
	}
}

// filterCache holds compiled filter programs. Compiled programs are safe
// for concurrent use.
type filterCache struct {
	mu    sync.RWMutex
	progs map[string]*vm.Program
}

func newFilterCache() *filterCache {
	return &filterCache{progs: make(map[string]*vm.Program)}
}

func (c *filterCache) compile(expression string) (*vm.Program, error) {
	c.mu.RLock()
	prg, ok := c.progs[expression]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(filterEnv(Info{}, time.Time{})),
		expr.AsBool(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid job filter %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	c.mu.Lock()
	c.progs[expression] = prg
	c.mu.Unlock()
	return prg, nil
}

func (c *filterCache) match(prg *vm.Program, info Info, now time.Time) (bool, error) {
	out, err := vm.Run(prg, filterEnv(info, now))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution, "job filter failed: %s", err.Error()).WithCause(err)
	}
	ok, _ := out.(bool)
	return ok, nil
}
