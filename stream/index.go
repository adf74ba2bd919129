package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IndexError wraps a failed index operation with a dotted operation code.
type IndexError struct {
	code string
	err  error
}

func (e *IndexError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *IndexError) Unwrap() error {
	return e.err
}

func (e *IndexError) Code() string {
	return e.code
}

const (
	opIndexNew      = "stream.index.new"
	opAddRole       = "stream.add_role"
	opRemoveRole    = "stream.remove_role"
	opEnsurePointer = "stream.ensure_pointer"
	opBumpMetadata  = "stream.bump_metadata"
	opDeleteAll     = "stream.delete_for_activity"
	opListItems     = "stream.list_items"
	opListIDs       = "stream.list_activity_ids"
	opCountDistinct = "stream.count_distinct"
)

func newIndexError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &IndexError{code: code, err: cause}
}

// IDProvider issues identifiers for newly created pointers.
type IDProvider interface {
	NewID() (string, error)
}

// IndexConfig describes the dependencies of the fan-out index.
type IndexConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Index owns the stream_items table. All mutations are keyed by the
// (activity id, viewer id) unique index so a replay after partial failure
// converges on the same state.
type Index struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewIndex validates the configuration and constructs an Index.
func NewIndex(cfg IndexConfig) (*Index, error) {
	if cfg.Database == nil {
		return nil, newIndexError(opIndexNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newIndexError(opIndexNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Index{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RoleGrant describes one qualifying event for a (activity, viewer) pair.
// OwnerHandle, PosterID and the flags seed the pointer when it does not
// exist yet; they are ignored on updates.
type RoleGrant struct {
	ActivityID  string
	ViewerID    string
	Role        ViewerRole
	OwnerHandle string
	PosterID    string
	Hidden      bool
	Locked      bool
	TimeMillis  int64
}

// AddRole records a qualifying event. A missing pointer is created with the
// single role; an existing pointer gains the role, or for repeatable roles
// has its counter incremented. The pointer time always advances to the
// event time.
func (x *Index) AddRole(ctx context.Context, grant RoleGrant) error {
	item, found, err := x.item(ctx, grant.ActivityID, grant.ViewerID)
	if err != nil {
		x.logError(opAddRole, "select_failed", err, grantFields(grant)...)
		return newIndexError(opAddRole, "select_failed", err)
	}

	if !found {
		created, createErr := x.createPointer(ctx, grant, true)
		if createErr == nil || created {
			return createErr
		}
		// Insert lost a race against the unique index; fall through to the
		// update path against the row that won.
		item, found, err = x.item(ctx, grant.ActivityID, grant.ViewerID)
		if err != nil || !found {
			if err == nil {
				err = createErr
			}
			x.logError(opAddRole, "insert_conflict_reload_failed", err, grantFields(grant)...)
			return newIndexError(opAddRole, "insert_conflict_reload_failed", err)
		}
	}

	if item.HasRole(grant.Role) {
		if grant.Role.Repeatable() {
			item.bumpCount(grant.Role, 1)
		}
	} else {
		item.addRole(grant.Role)
		if grant.Role.Repeatable() {
			item.bumpCount(grant.Role, 1)
		}
	}
	item.TimeMillis = grant.TimeMillis

	if err := x.db.WithContext(ctx).Save(item).Error; err != nil {
		x.logError(opAddRole, "save_failed", err, grantFields(grant)...)
		return newIndexError(opAddRole, "save_failed", err)
	}
	return nil
}

// RemoveRole unwinds one qualifying event. Repeatable roles decrement their
// counter and drop off the set at zero; presence-only roles drop directly.
// A pointer whose role set empties is deleted unless its viewer is the
// activity's poster, which keeps a role-less pointer so the poster's own
// timeline entry survives.
func (x *Index) RemoveRole(ctx context.Context, activityID, viewerID string, role ViewerRole) error {
	item, found, err := x.item(ctx, activityID, viewerID)
	if err != nil {
		x.logError(opRemoveRole, "select_failed", err,
			zap.String("activity_id", activityID), zap.String("viewer_id", viewerID))
		return newIndexError(opRemoveRole, "select_failed", err)
	}
	if !found || !item.HasRole(role) {
		return nil
	}

	if role.Repeatable() {
		if remaining := item.bumpCount(role, -1); remaining == 0 {
			item.removeRole(role)
		}
	} else {
		item.removeRole(role)
	}

	if item.Roles == "" && item.ViewerID != item.PosterID {
		if err := x.db.WithContext(ctx).Delete(item).Error; err != nil {
			x.logError(opRemoveRole, "delete_failed", err, zap.String("stream_item_id", item.ID))
			return newIndexError(opRemoveRole, "delete_failed", err)
		}
		return nil
	}

	if err := x.db.WithContext(ctx).Save(item).Error; err != nil {
		x.logError(opRemoveRole, "save_failed", err, zap.String("stream_item_id", item.ID))
		return newIndexError(opRemoveRole, "save_failed", err)
	}
	return nil
}

// EnsurePointer creates a role-less pointer for the pair when none exists.
// Used by space fan-out, which gives members visibility without a role.
func (x *Index) EnsurePointer(ctx context.Context, grant RoleGrant) error {
	_, found, err := x.item(ctx, grant.ActivityID, grant.ViewerID)
	if err != nil {
		x.logError(opEnsurePointer, "select_failed", err, grantFields(grant)...)
		return newIndexError(opEnsurePointer, "select_failed", err)
	}
	if found {
		return nil
	}
	created, err := x.createPointer(ctx, grant, false)
	if err != nil && !created {
		// A concurrent writer created the pointer first; nothing to do.
		if _, exists, reloadErr := x.item(ctx, grant.ActivityID, grant.ViewerID); reloadErr == nil && exists {
			return nil
		}
	}
	return err
}

// BumpActivityMetadata propagates an activity content update's time and
// hidden flag to every pointer referencing the activity. The update is
// absolute, so replaying it after a partial failure converges.
func (x *Index) BumpActivityMetadata(ctx context.Context, activityID string, timeMillis int64, hidden bool) error {
	err := x.db.WithContext(ctx).Model(&StreamItem{}).
		Where("activity_id = ?", activityID).
		Updates(map[string]interface{}{"time_ms": timeMillis, "hidden": hidden}).Error
	if err != nil {
		x.logError(opBumpMetadata, "update_failed", err, zap.String("activity_id", activityID))
		return newIndexError(opBumpMetadata, "update_failed", err)
	}
	return nil
}

// DeleteForActivity removes every pointer referencing the activity.
func (x *Index) DeleteForActivity(ctx context.Context, activityID string) error {
	err := x.db.WithContext(ctx).Where("activity_id = ?", activityID).Delete(&StreamItem{}).Error
	if err != nil {
		x.logError(opDeleteAll, "delete_failed", err, zap.String("activity_id", activityID))
		return newIndexError(opDeleteAll, "delete_failed", err)
	}
	return nil
}

// ItemsForActivity returns every pointer referencing the activity.
func (x *Index) ItemsForActivity(ctx context.Context, activityID string) ([]StreamItem, error) {
	var items []StreamItem
	err := x.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Order("viewer_id ASC").
		Find(&items).Error
	if err != nil {
		x.logError(opListItems, "query_failed", err, zap.String("activity_id", activityID))
		return nil, newIndexError(opListItems, "query_failed", err)
	}
	return items, nil
}

// Item returns the pointer for one (activity, viewer) pair when it exists.
func (x *Index) Item(ctx context.Context, activityID, viewerID string) (*StreamItem, bool, error) {
	item, found, err := x.item(ctx, activityID, viewerID)
	if err != nil {
		return nil, false, newIndexError(opListItems, "query_failed", err)
	}
	return item, found, nil
}

func (x *Index) item(ctx context.Context, activityID, viewerID string) (*StreamItem, bool, error) {
	var item StreamItem
	err := x.db.WithContext(ctx).
		Where("activity_id = ? AND viewer_id = ?", activityID, viewerID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

// createPointer returns created=false only when the insert failed; the
// caller decides whether a unique-index conflict is recoverable.
func (x *Index) createPointer(ctx context.Context, grant RoleGrant, withRole bool) (bool, error) {
	id, err := x.idProvider.NewID()
	if err != nil {
		x.logError(opAddRole, "id_generation_failed", err, grantFields(grant)...)
		return true, newIndexError(opAddRole, "id_generation_failed", err)
	}

	item := StreamItem{
		ID:          id,
		ActivityID:  grant.ActivityID,
		ViewerID:    grant.ViewerID,
		OwnerHandle: grant.OwnerHandle,
		PosterID:    grant.PosterID,
		TimeMillis:  grant.TimeMillis,
		Hidden:      grant.Hidden,
		Locked:      grant.Locked,
	}
	item.setCounts(nil)
	if withRole {
		item.addRole(grant.Role)
		if grant.Role.Repeatable() {
			item.bumpCount(grant.Role, 1)
		}
	}

	if err := x.db.WithContext(ctx).Create(&item).Error; err != nil {
		return false, newIndexError(opAddRole, "insert_failed", err)
	}
	return true, nil
}

func grantFields(grant RoleGrant) []zap.Field {
	return []zap.Field{
		zap.String("activity_id", grant.ActivityID),
		zap.String("viewer_id", grant.ViewerID),
		zap.String("role", string(grant.Role)),
	}
}

func (x *Index) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	x.logger.Error("stream index error", attrs...)
}
