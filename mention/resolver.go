package mention

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/waveline/activitystream/provider"
)

var (
	errMissingIdentities = errors.New("identity lookup is required")
	noOpLogger           = zap.NewNop()

	// mentionPattern captures @-prefixed tokens up to the next whitespace.
	mentionPattern = regexp.MustCompile(`@(\S+)`)
	// handlePattern accepts a letter followed by letters, digits, '.', '_' or '-'.
	handlePattern = regexp.MustCompile(`^\p{L}[\p{L}\d._-]+$`)
)

const defaultCacheSize = 512

// ResolverConfig describes the dependencies of the mention resolver.
type ResolverConfig struct {
	Identities provider.IdentityLookup
	CacheSize  int
	Logger     *zap.Logger
}

// Resolver extracts @handle tokens from text and resolves them to identity
// ids. Resolution results are cached; unresolved handles are dropped.
type Resolver struct {
	identities provider.IdentityLookup
	cache      *lru.Cache[string, string]
	logger     *zap.Logger
}

// NewResolver validates the configuration and constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Identities == nil {
		return nil, fmt.Errorf("mention.resolver.new: %w", errMissingIdentities)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("mention.resolver.new: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Resolver{
		identities: cfg.Identities,
		cache:      cache,
		logger:     logger,
	}, nil
}

// ExtractMentions returns the identity ids mentioned in text, in first
// occurrence order. The same handle appearing twice yields duplicate ids;
// callers upsert per viewer, so duplicates are harmless. Empty input,
// malformed tokens and unknown handles all resolve to nothing — extraction
// never fails.
func (r *Resolver) ExtractMentions(ctx context.Context, text string) []string {
	if text == "" {
		return nil
	}

	var ids []string
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		handle := match[1]
		if !handlePattern.MatchString(handle) {
			continue
		}
		if id, ok := r.resolve(ctx, handle); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Resolver) resolve(ctx context.Context, handle string) (string, bool) {
	if id, ok := r.cache.Get(handle); ok {
		return id, true
	}

	identity, found, err := r.identities.Resolve(ctx, provider.KindIndividual, handle)
	if err != nil {
		r.logger.Warn("mention resolution failed", zap.String("handle", handle), zap.Error(err))
		return "", false
	}
	if !found {
		return "", false
	}

	r.cache.Add(handle, identity.ID)
	return identity.ID, true
}
