package stream

import (
	"context"

	"gorm.io/gorm"
)

// RoleState selects how a clause constrains the pointer's role set.
type RoleState int

const (
	// RoleStateIgnore places no constraint on the role set.
	RoleStateIgnore RoleState = iota
	// RoleStateAny requires at least one role, whichever it is.
	RoleStateAny
	// RoleStateNone requires an empty role set (the surviving-poster pointer).
	RoleStateNone
	// RoleStateAnyOf requires at least one of the clause's RolesAnyOf.
	RoleStateAnyOf
)

// Clause is one conjunctive branch of a filter. Empty slices constrain to
// the empty set, so a viewer with no connections matches nothing.
type Clause struct {
	ViewerIn   []string
	OwnerIn    []string
	PosterIn   []string
	RoleState  RoleState
	RolesAnyOf []ViewerRole
}

// Filter is the declarative query each feed view compiles to: a disjunction
// of clauses, conjoined with the hidden-flag guard and an optional strict
// time cursor. The zero value matches every visible pointer.
type Filter struct {
	IncludeHidden bool
	NewerThan     *int64
	OlderThan     *int64
	Any           []Clause
}

// Newer returns a copy of the filter bounded to pointers strictly after t.
func (f Filter) Newer(t int64) Filter {
	f.NewerThan = &t
	f.OlderThan = nil
	return f
}

// Older returns a copy of the filter bounded to pointers strictly before t.
func (f Filter) Older(t int64) Filter {
	f.OlderThan = &t
	f.NewerThan = nil
	return f
}

func (x *Index) scope(ctx context.Context, filter Filter) *gorm.DB {
	query := x.db.WithContext(ctx).Model(&StreamItem{})
	if !filter.IncludeHidden {
		query = query.Where("hidden = ?", false)
	}
	if filter.NewerThan != nil {
		query = query.Where("time_ms > ?", *filter.NewerThan)
	}
	if filter.OlderThan != nil {
		query = query.Where("time_ms < ?", *filter.OlderThan)
	}

	if len(filter.Any) > 0 {
		combined := x.clauseCondition(filter.Any[0])
		for _, clause := range filter.Any[1:] {
			combined = combined.Or(x.clauseCondition(clause))
		}
		query = query.Where(combined)
	}
	return query
}

func (x *Index) clauseCondition(clause Clause) *gorm.DB {
	cond := x.db.Model(&StreamItem{})
	if clause.ViewerIn != nil {
		cond = cond.Where("viewer_id IN ?", clause.ViewerIn)
	}
	if clause.OwnerIn != nil {
		cond = cond.Where("owner_handle IN ?", clause.OwnerIn)
	}
	if clause.PosterIn != nil {
		cond = cond.Where("poster_id IN ?", clause.PosterIn)
	}

	switch clause.RoleState {
	case RoleStateAny:
		cond = cond.Where("roles <> ''")
	case RoleStateNone:
		cond = cond.Where("roles = ''")
	case RoleStateAnyOf:
		roles := clause.RolesAnyOf
		if len(roles) == 0 {
			roles = AllRoles
		}
		roleCond := x.db.Model(&StreamItem{}).Where("roles LIKE ?", "%"+string(roles[0])+"%")
		for _, role := range roles[1:] {
			roleCond = roleCond.Or("roles LIKE ?", "%"+string(role)+"%")
		}
		cond = cond.Where(roleCond)
	}
	return cond
}

// ListActivityIDs resolves the filter into distinct activity ids in
// time-descending pointer order. One activity can be referenced by several
// matching pointers, so repeats are skipped before offset and limit apply;
// both count deduplicated activities. A negative limit means unbounded.
func (x *Index) ListActivityIDs(ctx context.Context, filter Filter, offset, limit int) ([]string, error) {
	var pointerIDs []string
	err := x.scope(ctx, filter).
		Order("time_ms DESC").
		Pluck("activity_id", &pointerIDs).Error
	if err != nil {
		x.logError(opListIDs, "query_failed", err)
		return nil, newIndexError(opListIDs, "query_failed", err)
	}

	if offset < 0 {
		offset = 0
	}
	seen := make(map[string]struct{}, len(pointerIDs))
	result := make([]string, 0, len(pointerIDs))
	for _, activityID := range pointerIDs {
		if limit >= 0 && len(result) >= limit {
			break
		}
		if _, dup := seen[activityID]; dup {
			continue
		}
		seen[activityID] = struct{}{}
		if offset > 0 {
			offset--
			continue
		}
		result = append(result, activityID)
	}
	return result, nil
}

// CountDistinct returns the number of distinct activity ids matching the
// filter, computed in the store rather than by assembling the page.
func (x *Index) CountDistinct(ctx context.Context, filter Filter) (int, error) {
	var count int64
	err := x.scope(ctx, filter).Distinct("activity_id").Count(&count).Error
	if err != nil {
		x.logError(opCountDistinct, "query_failed", err)
		return 0, newIndexError(opCountDistinct, "query_failed", err)
	}
	return int(count), nil
}
