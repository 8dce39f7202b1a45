package authz

import (
	"context"
	"strings"
)

// RelationMap is a fixed mapping from relation name to the ability required
// to load it. Static configuration, never mutated after registration.
type RelationMap map[string]string

// RelationFilter restricts which associated data a caller may request. It
// owns one relation map per entity tag.
type RelationFilter struct {
	gate     *Gate
	entities map[string]RelationMap
}

// NewRelationFilter constructs a filter backed by the gate.
func NewRelationFilter(gate *Gate) *RelationFilter {
	return &RelationFilter{gate: gate, entities: make(map[string]RelationMap)}
}

// RegisterEntity installs the relation map for an entity tag.
func (f *RelationFilter) RegisterEntity(entity string, relations RelationMap) {
	f.entities[entity] = relations
}

// FilterLoadable returns the subset of requested relation names the
// principal may load on the entity: the name must be a key in the entity's
// relation map and the mapped ability must authorize. Unknown names are
// dropped silently so callers cannot probe for hidden relations. Input
// order is preserved and duplicates are not collapsed.
func (f *RelationFilter) FilterLoadable(ctx context.Context, p Principal, requested []string, entity string) []string {
	relations := f.entities[entity]
	allowed := make([]string, 0, len(requested))
	for _, name := range requested {
		ability, ok := relations[name]
		if !ok {
			continue
		}
		if f.gate.Can(ctx, p, ability) {
			allowed = append(allowed, name)
		}
	}
	return allowed
}

// ParseRelations splits a comma-joined relation spec into names, trimming
// surrounding whitespace and dropping empty segments.
func ParseRelations(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
