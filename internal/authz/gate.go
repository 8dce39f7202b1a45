package authz

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Rule decides a single ability for a principal. Arguments carry the
// operation targets, e.g. the user and role for an assignment check.
type Rule func(ctx context.Context, p Principal, args []any) bool

// Gate resolves named abilities against registered rules. Abilities with no
// registered rule are denied.
type Gate struct {
	mu     sync.RWMutex
	rules  map[string]Rule
	logger *slog.Logger
	onDeny func(ability string)
}

// NewGate constructs an empty Gate.
func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{rules: make(map[string]Rule), logger: logger}
}

// OnDeny installs a hook invoked with the ability name whenever a check is
// denied. Used for metrics.
func (g *Gate) OnDeny(hook func(ability string)) {
	g.onDeny = hook
}

// Register binds a rule to an ability name, replacing any previous rule.
func (g *Gate) Register(ability string, rule Rule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules[ability] = rule
}

// Authorize evaluates the ability for the principal. The ability may carry
// inline arguments ("assignRole:admin"); these are normalized ahead of any
// explicitly supplied arguments. Returns ErrDenied on rejection or when no
// rule is registered for the ability.
func (g *Gate) Authorize(ctx context.Context, p Principal, ability string, args ...any) error {
	name, inline := SplitAbility(ability)

	g.mu.RLock()
	rule, ok := g.rules[name]
	g.mu.RUnlock()
	if !ok {
		g.logger.Debug("ability has no rule", slog.String("ability", name))
		g.deny(name)
		return ErrDenied
	}
	if !rule(ctx, p, append(inline, args...)) {
		g.deny(name)
		return ErrDenied
	}
	return nil
}

func (g *Gate) deny(ability string) {
	if g.onDeny != nil {
		g.onDeny(ability)
	}
}

// Can is the boolean form of Authorize.
func (g *Gate) Can(ctx context.Context, p Principal, ability string, args ...any) bool {
	return g.Authorize(ctx, p, ability, args...) == nil
}

// SplitAbility normalizes a possibly qualified ability into its base name
// and inline argument list. "assignRole:admin,editor" yields
// ("assignRole", ["admin" "editor"]); a plain name yields an empty list.
func SplitAbility(ability string) (string, []any) {
	name, rest, found := strings.Cut(ability, ":")
	name = strings.TrimSpace(name)
	if !found {
		return name, nil
	}
	var args []any
	for _, raw := range strings.Split(rest, ",") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	return name, args
}
