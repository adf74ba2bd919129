// Package engine composes the canonical store, the fan-out index and the
// mention resolver into the activity-stream contract: mutators that keep the
// two stores in agreement, and feed views answered from the index alone.
package engine

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/waveline/activitystream/activity"
	"github.com/waveline/activitystream/mention"
	"github.com/waveline/activitystream/provider"
	"github.com/waveline/activitystream/stream"
)

var (
	errMissingDatabase      = errors.New("database handle is required")
	errMissingIdentities    = errors.New("identity lookup is required")
	errMissingRelationships = errors.New("relationship lookup is required")
	errMissingSpaces        = errors.New("space lookup is required")
	noOpLogger              = zap.NewNop()
)

// ServiceError wraps a failed engine operation with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opEngineNew      = "engine.new"
	opPostActivity   = "engine.post_activity"
	opUpdateActivity = "engine.update_activity"
	opDeleteActivity = "engine.delete_activity"
	opSaveComment    = "engine.save_comment"
	opDeleteComment  = "engine.delete_comment"
	opLike           = "engine.like"
	opUnlike         = "engine.unlike"
	opListFeed       = "engine.list_feed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Config describes the dependencies of the engine. The collaborators are
// injected explicitly; the engine performs no ambient lookups.
type Config struct {
	Database         *gorm.DB
	Identities       provider.IdentityLookup
	Relationships    provider.RelationshipLookup
	Spaces           provider.SpaceLookup
	Clock            func() time.Time
	IDProvider       activity.IDProvider
	MentionCacheSize int
	Logger           *zap.Logger
}

// Engine is the request-scoped entry point. It keeps no state between calls;
// the underlying database is the only serialization point.
type Engine struct {
	store         *activity.Store
	index         *stream.Index
	mentions      *mention.Resolver
	identities    provider.IdentityLookup
	relationships provider.RelationshipLookup
	spaces        provider.SpaceLookup
	clock         func() time.Time
	logger        *zap.Logger
}

// New validates the configuration and wires the engine together.
func New(cfg Config) (*Engine, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opEngineNew, "missing_database", errMissingDatabase)
	}
	if cfg.Identities == nil {
		return nil, newServiceError(opEngineNew, "missing_identity_lookup", errMissingIdentities)
	}
	if cfg.Relationships == nil {
		return nil, newServiceError(opEngineNew, "missing_relationship_lookup", errMissingRelationships)
	}
	if cfg.Spaces == nil {
		return nil, newServiceError(opEngineNew, "missing_space_lookup", errMissingSpaces)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = activity.NewUUIDProvider()
	}

	store, err := activity.NewStore(activity.StoreConfig{
		Database:   cfg.Database,
		Clock:      clock,
		IDProvider: idProvider,
		Identities: cfg.Identities,
		Logger:     logger,
	})
	if err != nil {
		return nil, newServiceError(opEngineNew, "store_init_failed", err)
	}

	index, err := stream.NewIndex(stream.IndexConfig{
		Database:   cfg.Database,
		Clock:      clock,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return nil, newServiceError(opEngineNew, "index_init_failed", err)
	}

	mentions, err := mention.NewResolver(mention.ResolverConfig{
		Identities: cfg.Identities,
		CacheSize:  cfg.MentionCacheSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, newServiceError(opEngineNew, "mention_resolver_init_failed", err)
	}

	return &Engine{
		store:         store,
		index:         index,
		mentions:      mentions,
		identities:    cfg.Identities,
		relationships: cfg.Relationships,
		spaces:        cfg.Spaces,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Store exposes the canonical store, mainly so callers can register
// post-read processors.
func (e *Engine) Store() *activity.Store {
	return e.store
}

// Index exposes the fan-out index.
func (e *Engine) Index() *stream.Index {
	return e.index
}

func (e *Engine) nowMillis() int64 {
	return e.clock().UTC().UnixMilli()
}

func (e *Engine) logWarn(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Warn("engine secondary update failed", attrs...)
}
