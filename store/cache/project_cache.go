package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-qbexport/core"
)

const projectCacheKeyPrefix = "qbexport::projects::v1"

// RealmResolver names the company whose projects are being listed.
type RealmResolver func(ctx context.Context) (string, error)

// ProjectSource serves the project listing from cache so a hierarchy is
// fetched once per realm per TTL. Truncated listings are never cached.
type ProjectSource struct {
	base  core.ProjectSource
	cache repositorycache.CacheService
	realm RealmResolver
}

type cachedListing struct {
	Projects []core.Project
	Report   core.FetchReport
}

// errUncacheable carries a partial listing past the cache without storing it.
type errUncacheable struct {
	listing cachedListing
}

func (e *errUncacheable) Error() string {
	return "cache: listing truncated"
}

func NewProjectSource(base core.ProjectSource, cacheService repositorycache.CacheService, realm RealmResolver) (*ProjectSource, error) {
	if base == nil {
		return nil, fmt.Errorf("cache: base project source is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("cache: cache service is required")
	}
	return &ProjectSource{base: base, cache: cacheService, realm: realm}, nil
}

// NewCacheService builds an in-memory cache with the given TTL.
func NewCacheService(cfg core.CacheConfig) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if cfg.ProjectTTL > 0 {
		config.TTL = cfg.ProjectTTL
	}
	return repositorycache.NewCacheService(config)
}

// ProjectCacheKey returns qbexport::projects::v1::<realm>.
func ProjectCacheKey(realmID string) string {
	realmID = strings.TrimSpace(realmID)
	if realmID == "" {
		realmID = "default"
	}
	return projectCacheKeyPrefix + "::" + url.PathEscape(realmID)
}

func (s *ProjectSource) ListProjects(ctx context.Context) ([]core.Project, core.FetchReport, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, core.FetchReport{}, fmt.Errorf("cache: project source is not configured")
	}
	key, err := s.key(ctx)
	if err != nil {
		return nil, core.FetchReport{}, err
	}

	listing, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (cachedListing, error) {
		projects, report, fetchErr := s.base.ListProjects(ctx)
		if fetchErr != nil {
			return cachedListing{}, fetchErr
		}
		fetched := cachedListing{Projects: projects, Report: report}
		if report.Truncated {
			return cachedListing{}, &errUncacheable{listing: fetched}
		}
		return fetched, nil
	})
	if err != nil {
		var partial *errUncacheable
		if errors.As(err, &partial) {
			return cloneProjects(partial.listing.Projects), partial.listing.Report, nil
		}
		return nil, core.FetchReport{}, err
	}
	return cloneProjects(listing.Projects), listing.Report, nil
}

// Invalidate drops the cached listing for the current realm.
func (s *ProjectSource) Invalidate(ctx context.Context) error {
	if s == nil || s.cache == nil {
		return nil
	}
	key, err := s.key(ctx)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, key)
}

func (s *ProjectSource) key(ctx context.Context) (string, error) {
	if s.realm == nil {
		return ProjectCacheKey(""), nil
	}
	realmID, err := s.realm(ctx)
	if err != nil {
		return "", err
	}
	return ProjectCacheKey(realmID), nil
}

func cloneProjects(projects []core.Project) []core.Project {
	if projects == nil {
		return nil
	}
	out := make([]core.Project, len(projects))
	copy(out, projects)
	return out
}

var _ core.ProjectSource = (*ProjectSource)(nil)
