package scraper

import (
	"context"
	"fmt"

	"incarceration-bot/internal/models"
	"incarceration-bot/internal/normalizer"
)

// Scraper lists the inmates a jail's roster currently shows. cache may be
// nil; it is shared by every jail of one scrape run.
type Scraper interface {
	Scrape(ctx context.Context, jail models.Jail, cache *normalizer.MugshotCache) ([]models.RawInmate, error)
}

// Registry picks a scraper by jail kind
type Registry struct {
	scrapers map[string]Scraper
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]Scraper)}
}

// Register binds kind to s
func (r *Registry) Register(kind string, s Scraper) {
	r.scrapers[kind] = s
}

// For returns the scraper for the jail's kind
func (r *Registry) For(jail models.Jail) (Scraper, error) {
	s, ok := r.scrapers[jail.Kind]
	if !ok {
		return nil, fmt.Errorf("no scraper registered for kind %q (jail %s)", jail.Kind, jail.ID)
	}
	return s, nil
}
