package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/repo"
)

// Loader reads the source-of-truth rows the cache mirrors.
type Loader interface {
	LoadUsers(ctx context.Context) ([]domain.User, error)
	LoadMaps(ctx context.Context) ([]MapData, error)
	LoadStrings(ctx context.Context, kind string) ([]string, error)
}

// DBLoader loads cache contents through the repo query catalog.
type DBLoader struct {
	DB *gorm.DB
}

func (l DBLoader) LoadUsers(ctx context.Context) ([]domain.User, error) {
	return repo.LoadUsers(ctx, l.DB)
}

func (l DBLoader) LoadMaps(ctx context.Context) ([]MapData, error) {
	rows, err := repo.LoadMaps(ctx, l.DB)
	if err != nil {
		return nil, err
	}
	out := make([]MapData, 0, len(rows))
	for _, r := range rows {
		out = append(out, MapData{Code: r.Code, UserIDs: r.UserIDs, Archived: r.Archived})
	}
	return out, nil
}

func (l DBLoader) LoadStrings(ctx context.Context, kind string) ([]string, error) {
	return repo.LoadStrings(ctx, l.DB, kind)
}

// GenjiCache groups every cached collection.
type GenjiCache struct {
	Users        *Users
	Maps         *Maps
	MapNames     *Strings
	MapTypes     *Strings
	Mechanics    *Strings
	Restrictions *Strings
	Tags         *Strings

	mu    sync.Mutex
	ready bool
}

// New returns an empty cache; call Setup once to load it.
func New() *GenjiCache {
	return &GenjiCache{
		Users:        NewUsers(),
		Maps:         NewMaps(),
		MapNames:     NewStrings(domain.LookupMapNames),
		MapTypes:     NewStrings(domain.LookupMapTypes),
		Mechanics:    NewStrings(domain.LookupMechanics),
		Restrictions: NewStrings(domain.LookupRestrictions),
		Tags:         NewStrings(domain.LookupTags),
	}
}

// Strings returns the lookup collection for kind, or nil.
func (g *GenjiCache) Strings(kind string) *Strings {
	switch kind {
	case domain.LookupMapNames:
		return g.MapNames
	case domain.LookupMapTypes:
		return g.MapTypes
	case domain.LookupMechanics:
		return g.Mechanics
	case domain.LookupRestrictions:
		return g.Restrictions
	case domain.LookupTags:
		return g.Tags
	}
	return nil
}

// Setup bulk-loads every collection in parallel, one pass per kind. It
// may only succeed once; later calls return ErrAlreadySetup. A failed
// Setup can be retried.
func (g *GenjiCache) Setup(ctx context.Context, l Loader) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return ErrAlreadySetup
	}

	var (
		users []UserData
		maps  []MapData
	)
	strs := map[string][]string{}
	var strsMu sync.Mutex

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		rows, err := l.LoadUsers(gctx)
		if err != nil {
			return fmt.Errorf("load users: %w", err)
		}
		users = make([]UserData, 0, len(rows))
		for _, r := range rows {
			users = append(users, UserFromModel(r))
		}
		return nil
	})
	grp.Go(func() error {
		rows, err := l.LoadMaps(gctx)
		if err != nil {
			return fmt.Errorf("load maps: %w", err)
		}
		maps = make([]MapData, 0, len(rows))
		for _, m := range rows {
			if err := validateMap(m); err != nil {
				log.Warn().Err(err).Str("map_code", m.Code).Msg("skipping map")
				continue
			}
			maps = append(maps, m)
		}
		return nil
	})
	for kind := range domain.LookupTables {
		kind := kind
		grp.Go(func() error {
			vals, err := l.LoadStrings(gctx, kind)
			if err != nil {
				return fmt.Errorf("load %s: %w", kind, err)
			}
			strsMu.Lock()
			strs[kind] = vals
			strsMu.Unlock()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	if err := g.Users.Reset(users); err != nil {
		return err
	}
	if err := g.Maps.Reset(maps); err != nil {
		return err
	}
	for kind, vals := range strs {
		if err := g.Strings(kind).Reset(vals); err != nil {
			return err
		}
	}
	g.ready = true

	log.Info().
		Int("users", g.Users.Len()).
		Int("maps", g.Maps.Len()).
		Msg("cache loaded")
	return nil
}

// RefreshCache re-derives every display field without changing membership.
func (g *GenjiCache) RefreshCache() {
	g.Users.Refresh()
	g.Maps.Refresh()
	for kind := range domain.LookupTables {
		g.Strings(kind).Refresh()
	}
}

// Choices returns autocomplete choices for a named collection. The
// names "maps", "users" and "creators" are special-cased; any lookup kind
// is accepted too. ok is false for an unknown name.
func (g *GenjiCache) Choices(name, query string) ([]Choice, bool) {
	switch name {
	case "maps":
		return g.Maps.ChoicesFor(query), true
	case "users":
		return g.Users.Choices(query), true
	case "creators":
		return g.Users.CreatorChoices(query), true
	}
	if s := g.Strings(name); s != nil {
		return s.Choices(query), true
	}
	return nil, false
}
