// Package modelrules evaluates the gateway's per-model admission rules
// (allow-list, block-list, model_map substitution) against the model
// named in an incoming request (spec.md §4.6 steps 2-4).
package modelrules

import (
	"github.com/gobwas/glob"

	"github.com/Luji7/llm-gateway/internal/config"
)

// Rules is a compiled view of config.ModelsConfig's allow/block lists.
// original_source's allowlist/blocklist are plain string sets; this
// gateway additionally accepts glob patterns (e.g. "gpt-4*") in either
// list, compiling each entry once up front rather than re-parsing it
// per request.
type Rules struct {
	allow    []compiledPattern
	block    []compiledPattern
	modelMap map[string]string
}

type compiledPattern struct {
	literal string
	glob    glob.Glob
}

func compile(patterns []string) []compiledPattern {
	out := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		cp := compiledPattern{literal: p}
		if g, err := glob.Compile(p); err == nil {
			cp.glob = g
		}
		out = append(out, cp)
	}
	return out
}

func (c compiledPattern) matches(model string) bool {
	if c.glob != nil {
		return c.glob.Match(model)
	}
	return c.literal == model
}

// New compiles the allow-list, block-list, and model_map from cfg.
func New(cfg *config.ModelsConfig) *Rules {
	return &Rules{
		allow:    compile(cfg.Allowlist),
		block:    compile(cfg.Blocklist),
		modelMap: cfg.ModelMap,
	}
}

// Allowed reports whether model passes the allow-list (vacuously true
// when the allow-list is empty) and fails the block-list.
func (r *Rules) Allowed(model string) (bool, string) {
	if len(r.allow) > 0 {
		matched := false
		for _, p := range r.allow {
			if p.matches(model) {
				matched = true
				break
			}
		}
		if !matched {
			return false, "model not in allowlist"
		}
	}
	for _, p := range r.block {
		if p.matches(model) {
			return false, "model is blocked"
		}
	}
	return true, ""
}

// Substitute applies model_map, returning model unchanged when there's
// no entry for it. Only called in translate mode; pass-through leaves
// the forwarded body's model untouched per spec.md §4.6 step 4.
func (r *Rules) Substitute(model string) string {
	if mapped, ok := r.modelMap[model]; ok {
		return mapped
	}
	return model
}
