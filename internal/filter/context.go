// Package filter implements the contextual candidate pre-filter.
//
// Rules are CEL (Common Expression Language) expressions that must evaluate
// to a bool. Every rule has to pass for a material to stay in the candidate
// set. Rules see three variables:
//
//   - material: id, title, author_id, price, categories, class_grades, tags
//   - context:  season, device
//   - seasons:  the list of season names
//
// Examples:
//   - `context.device == "" || !("desktop_only" in material.tags)`
//   - `material.price <= 5.0`
package filter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

var (
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("material", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("context", cel.MapType(cel.StringType, cel.StringType)),
			cel.Variable("seasons", cel.ListType(cel.StringType)),
		)
	})
	return celEnv, celEnvErr
}

// DefaultRules keeps season-tagged materials to their season and hides
// desktop-only materials from other devices.
func DefaultRules() map[string]string {
	return map[string]string{
		"season": `!material.tags.exists(t, t in seasons) || context.season in material.tags || "all_year" in material.tags`,
		"device": `context.device == "" || context.device == "desktop" || !("desktop_only" in material.tags)`,
	}
}

type rule struct {
	name string
	prg  cel.Program
}

// ContextFilter is a compiled rule set. It is safe for concurrent use.
type ContextFilter struct {
	rules []rule
}

func NewContextFilter(rules map[string]string) (*ContextFilter, error) {
	env, err := getEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	f := &ContextFilter{rules: make([]rule, 0, len(names))}
	for _, name := range names {
		ast, iss := env.Compile(rules[name])
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("compile rule %s: %w", name, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
			return nil, fmt.Errorf("rule %s must return bool, got %s", name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program rule %s: %w", name, err)
		}
		f.rules = append(f.rules, rule{name: name, prg: prg})
	}
	return f, nil
}

// Allow reports whether m passes every rule under rc.
func (f *ContextFilter) Allow(m domain.Material, rc domain.RequestContext) (bool, error) {
	vars := map[string]any{
		"material": materialVars(m),
		"context":  map[string]string{"season": rc.Season, "device": rc.Device},
		"seasons":  domain.Seasons,
	}
	for _, r := range f.rules {
		out, _, err := r.prg.Eval(vars)
		if err != nil {
			return false, fmt.Errorf("eval rule %s on material %s: %w", r.name, m.ID, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return false, fmt.Errorf("rule %s returned %T, want bool", r.name, out.Value())
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Apply returns the materials allowed under rc, preserving order.
func (f *ContextFilter) Apply(materials []domain.Material, rc domain.RequestContext) ([]domain.Material, error) {
	out := make([]domain.Material, 0, len(materials))
	for _, m := range materials {
		ok, err := f.Allow(m, rc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func materialVars(m domain.Material) map[string]any {
	return map[string]any{
		"id":           m.ID,
		"title":        m.Title,
		"author_id":    m.AuthorID,
		"price":        m.Price,
		"categories":   nonNil(m.Categories),
		"class_grades": nonNil(m.ClassGrades),
		"tags":         nonNil(m.Tags),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
