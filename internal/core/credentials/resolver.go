package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/metrics"
)

// Store persists resource credentials learned at runtime.
type Store interface {
	GetCredential(ctx context.Context, resourceID string) (string, bool, error)
	PutCredentials(ctx context.Context, credentials map[string]string) error
	ListCredentials(ctx context.Context) (map[string]string, error)
}

// GraphAPI is the slice of the request executor the resolver needs.
type GraphAPI interface {
	Get(ctx context.Context, path string, params url.Values, credential, contextKey string) (*core.Response, error)
}

// Strategy is one credential source. A strategy that has nothing for the resource
// returns ok=false with a nil error.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, resourceID, master string) (credential string, ok bool, err error)
}

// Result is a resolved credential and the strategy that produced it.
type Result struct {
	ResourceID string `json:"resource_id"`
	Credential string `json:"-"`
	Strategy   string `json:"strategy"`
}

// Resolver consults its strategies in order and returns the first hit.
type Resolver struct {
	strategies []Strategy
}

// NewResolver returns a resolver over strategies, in priority order.
func NewResolver(strategies ...Strategy) *Resolver {
	kept := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Resolver{strategies: kept}
}

// NewDefaultResolver wires the standard chain: configured map, durable store, account
// discovery with the master credential, then identification of loose credentials.
func NewDefaultResolver(env EnvMap, store Store, api GraphAPI) *Resolver {
	return NewResolver(
		&EnvStrategy{Map: env, API: api},
		&StoreStrategy{Store: store},
		&DiscoveryStrategy{API: api, Store: store},
		NewLooseStrategy(env.Loose, api, store),
	)
}

// Strategies returns the configured strategy names in order.
func (r *Resolver) Strategies() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Resolve finds a credential for resourceID. Strategy errors do not stop the chain;
// when nothing resolves they are joined into the NO_CREDENTIAL error.
func (r *Resolver) Resolve(ctx context.Context, resourceID, master string) (Result, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return Result{}, core.NewInvalidInputError("resource id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	if r != nil {
		for _, strategy := range r.strategies {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			credential, ok, err := strategy.Resolve(ctx, resourceID, master)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
				continue
			}
			if ok && credential != "" {
				metrics.RecordCredentialResolution(strategy.Name())
				return Result{ResourceID: resourceID, Credential: credential, Strategy: strategy.Name()}, nil
			}
		}
	}

	metrics.RecordCredentialResolution("")
	return Result{}, core.NewNoCredentialError(resourceID, errors.Join(errs...))
}

// Pages lists the resources reachable with the configured credentials. With a master
// credential the account listing is authoritative; otherwise the configured map and
// loose credentials are identified one by one.
func (r *Resolver) Pages(ctx context.Context, master string) ([]core.Page, error) {
	if r == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	listers := make([]PageLister, 0, len(r.strategies))
	for _, s := range r.strategies {
		if lister, ok := s.(PageLister); ok {
			listers = append(listers, lister)
		}
	}

	if strings.TrimSpace(master) != "" {
		for _, lister := range listers {
			if _, ok := lister.(*DiscoveryStrategy); ok {
				return lister.Pages(ctx, master)
			}
		}
	}

	var (
		pages []core.Page
		errs  []error
		seen  = make(map[string]bool)
	)
	for _, lister := range listers {
		if _, ok := lister.(*DiscoveryStrategy); ok {
			continue
		}
		found, err := lister.Pages(ctx, master)
		if err != nil {
			errs = append(errs, err)
		}
		for _, page := range found {
			if seen[page.ID] {
				continue
			}
			seen[page.ID] = true
			pages = append(pages, page)
		}
	}
	if len(pages) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return pages, nil
}

// PageLister is implemented by strategies that can enumerate their resources.
type PageLister interface {
	Pages(ctx context.Context, master string) ([]core.Page, error)
}
