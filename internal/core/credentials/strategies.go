package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/pagegate/pagegate/internal/core"
)

// Strategy names
const (
	StrategyEnv       = "env"
	StrategyStore     = "store"
	StrategyDiscovery = "discovery"
	StrategyLoose     = "loose"
)

const accountsLimit = "200"

// EnvStrategy serves the explicit entries of the configured map.
type EnvStrategy struct {
	Map EnvMap
	API GraphAPI
}

func (s *EnvStrategy) Name() string { return StrategyEnv }

func (s *EnvStrategy) Resolve(_ context.Context, resourceID, _ string) (string, bool, error) {
	credential, ok := s.Map.Lookup(resourceID)
	return credential, ok, nil
}

// Pages names each configured resource, falling back to the id when the name lookup
// fails.
func (s *EnvStrategy) Pages(ctx context.Context, _ string) ([]core.Page, error) {
	pages := make([]core.Page, 0, len(s.Map.Explicit))
	for _, id := range s.Map.IDs() {
		credential := s.Map.Explicit[id]
		page := core.Page{ID: id, Name: id, AccessToken: credential}
		if s.API != nil {
			resp, err := s.API.Get(ctx, id, url.Values{"fields": {"name"}}, credential, core.ResourceContext(id))
			if err == nil {
				if name := resp.String("name"); name != "" {
					page.Name = name
				}
			}
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// StoreStrategy serves credentials persisted by earlier discoveries.
type StoreStrategy struct {
	Store Store
}

func (s *StoreStrategy) Name() string { return StrategyStore }

func (s *StoreStrategy) Resolve(ctx context.Context, resourceID, _ string) (string, bool, error) {
	if s.Store == nil {
		return "", false, nil
	}
	return s.Store.GetCredential(ctx, resourceID)
}

// DiscoveryStrategy lists every resource the master credential can reach and
// persists all of them, not only the one asked for.
type DiscoveryStrategy struct {
	API   GraphAPI
	Store Store
}

func (s *DiscoveryStrategy) Name() string { return StrategyDiscovery }

func (s *DiscoveryStrategy) Resolve(ctx context.Context, resourceID, master string) (string, bool, error) {
	if strings.TrimSpace(master) == "" || s.API == nil {
		return "", false, nil
	}
	pages, err := s.Pages(ctx, master)
	for _, page := range pages {
		if page.ID == resourceID && page.AccessToken != "" {
			return page.AccessToken, true, nil
		}
	}
	return "", false, err
}

func (s *DiscoveryStrategy) Pages(ctx context.Context, master string) ([]core.Page, error) {
	if s.API == nil {
		return nil, errors.New("no upstream client configured")
	}
	resp, err := s.API.Get(ctx, "me/accounts", url.Values{"limit": {accountsLimit}}, master, "")
	if err != nil {
		return nil, err
	}

	pages := accountsFromBody(resp.Body)
	found := make(map[string]string, len(pages))
	for _, page := range pages {
		if page.ID != "" && page.AccessToken != "" {
			found[page.ID] = page.AccessToken
		}
	}
	if len(found) > 0 && s.Store != nil {
		if err := s.Store.PutCredentials(ctx, found); err != nil {
			return pages, fmt.Errorf("persist discovered credentials: %w", err)
		}
	}
	return pages, nil
}

func accountsFromBody(body map[string]any) []core.Page {
	items, _ := body["data"].([]any)
	pages := make([]core.Page, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := core.StringField(entry, "id")
		if id == "" {
			continue
		}
		pages = append(pages, core.Page{
			ID:          id,
			Name:        core.StringField(entry, "name"),
			AccessToken: core.StringField(entry, "access_token"),
		})
	}
	return pages
}

// LooseStrategy identifies credentials that were configured without a resource id.
// Each credential is looked up at most once successfully per process. Lookups run
// outside the lock; a credential being identified by one caller is not claimed by another.
type LooseStrategy struct {
	API   GraphAPI
	Store Store

	mu       sync.Mutex
	pending  []string
	inFlight map[string]chan struct{}
	learned  []core.Page
}

// NewLooseStrategy returns a strategy over the given loose credentials.
func NewLooseStrategy(credentials []string, api GraphAPI, store Store) *LooseStrategy {
	pending := make([]string, 0, len(credentials))
	for _, c := range credentials {
		if c = strings.TrimSpace(c); c != "" {
			pending = append(pending, c)
		}
	}
	return &LooseStrategy{
		API:      api,
		Store:    store,
		pending:  pending,
		inFlight: make(map[string]chan struct{}),
	}
}

func (s *LooseStrategy) Name() string { return StrategyLoose }

func (s *LooseStrategy) Resolve(ctx context.Context, resourceID, _ string) (string, bool, error) {
	page, found, err := s.identify(ctx, resourceID)
	if !found {
		return "", false, err
	}
	return page.AccessToken, true, nil
}

// Pages identifies every pending credential and returns all learned resources.
func (s *LooseStrategy) Pages(ctx context.Context, _ string) ([]core.Page, error) {
	_, _, err := s.identify(ctx, "")
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Page(nil), s.learned...), err
}

// identify works through the pending credentials until resourceID is learned. An empty
// resourceID drains the queue. Lookups claimed by other callers are waited on rather
// than repeated; a credential that fails is tried at most once per call.
func (s *LooseStrategy) identify(ctx context.Context, resourceID string) (core.Page, bool, error) {
	var errs []error
	tried := make(map[string]bool)

	for {
		s.mu.Lock()
		if resourceID != "" {
			if page, ok := s.learnedLocked(resourceID); ok {
				s.mu.Unlock()
				return page, true, nil
			}
		}

		if credential, ok := s.claimLocked(tried); ok {
			done := make(chan struct{})
			s.inFlight[credential] = done
			s.mu.Unlock()

			tried[credential] = true
			page, err := s.lookup(ctx, credential)

			s.mu.Lock()
			delete(s.inFlight, credential)
			if err != nil {
				s.pending = append(s.pending, credential)
			} else {
				s.learned = append(s.learned, page)
			}
			close(done)
			s.mu.Unlock()

			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := s.persist(ctx, page); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		wait := s.anyInFlightLocked(tried)
		s.mu.Unlock()
		if wait == nil {
			return core.Page{}, false, errors.Join(errs...)
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return core.Page{}, false, errors.Join(append(errs, ctx.Err())...)
		}
	}
}

func (s *LooseStrategy) learnedLocked(resourceID string) (core.Page, bool) {
	for _, page := range s.learned {
		if page.ID == resourceID {
			return page, true
		}
	}
	return core.Page{}, false
}

// claimLocked removes the first pending credential this call has not tried yet.
func (s *LooseStrategy) claimLocked(tried map[string]bool) (string, bool) {
	for i, credential := range s.pending {
		if tried[credential] {
			continue
		}
		s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
		return credential, true
	}
	return "", false
}

func (s *LooseStrategy) anyInFlightLocked(tried map[string]bool) <-chan struct{} {
	for credential, done := range s.inFlight {
		if !tried[credential] {
			return done
		}
	}
	return nil
}

// lookup asks the upstream who owns credential.
func (s *LooseStrategy) lookup(ctx context.Context, credential string) (core.Page, error) {
	if s.API == nil {
		return core.Page{}, errors.New("no upstream client configured")
	}
	resp, err := s.API.Get(ctx, "me", url.Values{"fields": {"id,name"}}, credential, "")
	if err != nil {
		return core.Page{}, err
	}
	id := resp.String("id")
	if id == "" {
		return core.Page{}, errors.New("identity lookup returned no id")
	}
	return core.Page{ID: id, Name: resp.String("name"), AccessToken: credential}, nil
}

func (s *LooseStrategy) persist(ctx context.Context, page core.Page) error {
	if s.Store == nil {
		return nil
	}
	if err := s.Store.PutCredentials(ctx, map[string]string{page.ID: page.AccessToken}); err != nil {
		return fmt.Errorf("persist identified credential: %w", err)
	}
	return nil
}
