package scraper

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"incarceration-bot/internal/models"
	"incarceration-bot/internal/normalizer"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// KindZuercher jails hosted on a Zuercher Portal
const KindZuercher = "zuercher"

const inmatesPath = "/api/portal/inmates/load"

// Options scraper tuning
type Options struct {
	FetchTimeout      time.Duration
	RPS               float64
	DetailConcurrency int
	PageSize          int
	UserAgent         string
}

// ZuercherScraper reads the Zuercher Portal JSON roster API
type ZuercherScraper struct {
	httpClient        *resty.Client
	limiter           *rate.Limiter
	detailConcurrency int
	pageSize          int
	logger            *zap.Logger
}

// NewZuercherScraper creates a Zuercher Portal scraper
func NewZuercherScraper(opts Options, logger *zap.Logger) *ZuercherScraper {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	if opts.DetailConcurrency < 1 {
		opts.DetailConcurrency = 5
	}
	if opts.PageSize < 1 {
		opts.PageSize = 100
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}

	client := resty.New().
		SetTimeout(opts.FetchTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	return &ZuercherScraper{
		httpClient:        client,
		limiter:           rate.NewLimiter(limit, 1),
		detailConcurrency: opts.DetailConcurrency,
		pageSize:          opts.PageSize,
		logger:            logger,
	}
}

type loadRequest struct {
	FilterOptionsParameters filterOptions `json:"FilterOptionsParameters"`
	IncludeCount            bool          `json:"IncludeCount"`
	PagingOptions           pagingOptions `json:"PagingOptions"`
}

type filterOptions struct {
	IntersectionSearch bool          `json:"IntersectionSearch"`
	SearchText         string        `json:"SearchText"`
	Parameters         []interface{} `json:"Parameters"`
}

type sortOption struct {
	Name          string `json:"Name"`
	SortDirection string `json:"SortDirection"`
	Sequence      int    `json:"Sequence"`
}

type pagingOptions struct {
	SortOptions []sortOption `json:"SortOptions"`
	Take        int          `json:"Take"`
	Skip        int          `json:"Skip"`
}

type loadResponse struct {
	TotalRecordCount int              `json:"total_record_count"`
	Records          []zuercherRecord `json:"records"`
}

type zuercherCharge struct {
	Description string `json:"charge_description"`
}

type zuercherRecord struct {
	Name          string           `json:"name"`
	Race          string           `json:"race"`
	Sex           string           `json:"sex"`
	DOB           string           `json:"dob"`
	CellBlock     string           `json:"cell_block"`
	ArrestDate    string           `json:"arrest_date"`
	HeldForAgency string           `json:"held_for_agency"`
	HoldReasons   string           `json:"hold_reasons"`
	Charges       []zuercherCharge `json:"charges"`
	IsJuvenile    interface{}      `json:"is_juvenile"`
	ReleaseDate   string           `json:"release_date"`
	Mugshot       string           `json:"mugshot"`
	MugshotURL    string           `json:"mugshot_url"`
}

func (r zuercherRecord) raw() models.RawInmate {
	var charges []string
	for _, c := range r.Charges {
		charges = append(charges, c.Description)
	}
	if len(charges) == 0 && r.HoldReasons != "" {
		charges = []string{r.HoldReasons}
	}

	return models.RawInmate{
		Name:          r.Name,
		Race:          r.Race,
		Sex:           r.Sex,
		DateOfBirth:   r.DOB,
		CellBlock:     r.CellBlock,
		ArrestDate:    r.ArrestDate,
		HeldForAgency: r.HeldForAgency,
		Charges:       charges,
		IsJuvenile:    flag(r.IsJuvenile),
		ReleaseDate:   r.ReleaseDate,
		Mugshot:       r.Mugshot,
		MugshotURL:    r.MugshotURL,
	}
}

// flag renders the portal's is_juvenile, which is a bool on most portals and
// a string on some
func flag(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// Scrape pages through the roster, then fills missing mugshots. A failed
// roster page fails the jail; a failed mugshot only leaves that image empty.
func (s *ZuercherScraper) Scrape(ctx context.Context, jail models.Jail, cache *normalizer.MugshotCache) ([]models.RawInmate, error) {
	base := strings.TrimRight(jail.ScrapeURL, "/")
	if base == "" {
		return nil, &models.JailUnreachableError{JailID: jail.ID, Err: fmt.Errorf("no scrape url")}
	}

	var raws []models.RawInmate
	for skip := 0; ; {
		page, err := s.loadPage(ctx, base, skip)
		if err != nil {
			return nil, &models.JailUnreachableError{JailID: jail.ID, Err: err}
		}
		for _, rec := range page.Records {
			raws = append(raws, rec.raw())
		}

		skip += len(page.Records)
		if len(page.Records) == 0 || skip >= page.TotalRecordCount {
			break
		}
	}

	fetched := s.fillMugshots(ctx, jail, raws, cache)

	s.logger.Info("Roster scraped",
		zap.String("jail_id", jail.ID),
		zap.Int("inmates", len(raws)),
		zap.Int("mugshots_fetched", fetched),
	)
	return raws, nil
}

func (s *ZuercherScraper) loadPage(ctx context.Context, base string, skip int) (*loadResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var page loadResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(loadRequest{
			FilterOptionsParameters: filterOptions{Parameters: []interface{}{}},
			IncludeCount:            true,
			PagingOptions: pagingOptions{
				SortOptions: []sortOption{{Name: "ArrestDate", SortDirection: "Descending", Sequence: 1}},
				Take:        s.pageSize,
				Skip:        skip,
			},
		}).
		SetResult(&page).
		Post(base + inmatesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster page at %d: %w", skip, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("roster page at %d returned %d", skip, resp.StatusCode())
	}
	return &page, nil
}

// fillMugshots downloads images referenced by URL, at most
// detailConcurrency at a time, and returns how many were downloaded
func (s *ZuercherScraper) fillMugshots(ctx context.Context, jail models.Jail, raws []models.RawInmate, cache *normalizer.MugshotCache) int {
	var g errgroup.Group
	g.SetLimit(s.detailConcurrency)

	fetched := make([]bool, len(raws))
	for i := range raws {
		i := i
		raw := &raws[i]
		if raw.Mugshot != "" || raw.MugshotURL == "" {
			continue
		}
		if img, ok := cache.Get(raw.MugshotURL); ok {
			raw.Mugshot = img
			continue
		}

		g.Go(func() error {
			img, err := s.fetchImage(ctx, raw.MugshotURL)
			if err != nil {
				s.logger.Debug("Skipping mugshot",
					zap.String("jail_id", jail.ID),
					zap.String("url", raw.MugshotURL),
					zap.Error(err),
				)
				return nil
			}
			raw.Mugshot = img
			cache.Add(raw.MugshotURL, img)
			fetched[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range fetched {
		if ok {
			n++
		}
	}
	return n
}

func (s *ZuercherScraper) fetchImage(ctx context.Context, url string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "image/*").
		Get(url)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("image request returned %d", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return "", fmt.Errorf("empty image")
	}
	return base64.StdEncoding.EncodeToString(resp.Body()), nil
}
