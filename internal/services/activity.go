// Package services orchestrates activity use cases on top of the store, the
// search pipeline and the live bus. Handlers stay thin; policy lives here.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ledgerline/activity-service/internal/feed"
	"github.com/ledgerline/activity-service/internal/model"
	"github.com/ledgerline/activity-service/internal/search"
	"github.com/ledgerline/activity-service/internal/store"
)

// Options carries the listing policy knobs. Zero values fall back to
// defaults so tests can construct a service tersely.
type Options struct {
	PageSizeMin     int
	PageSizeDefault int
	PageSizeMax     int
	MaxOffset       int
	QueryMaxLen     int
	SmartCandidates int
	SmartTopN       int
}

func (o *Options) defaults() {
	if o.PageSizeMin <= 0 {
		o.PageSizeMin = 1
	}
	if o.PageSizeDefault <= 0 {
		o.PageSizeDefault = 20
	}
	if o.PageSizeMax <= 0 {
		o.PageSizeMax = 100
	}
	if o.MaxOffset <= 0 {
		o.MaxOffset = 10000
	}
	if o.QueryMaxLen <= 0 {
		o.QueryMaxLen = 120
	}
	if o.SmartCandidates <= 0 {
		o.SmartCandidates = 500
	}
	if o.SmartTopN <= 0 {
		o.SmartTopN = 25
	}
}

// ActivityService is the single entry point for reading, searching and
// ingesting activities.
type ActivityService struct {
	store store.Store
	bus   *feed.Bus
	opts  Options
	log   zerolog.Logger
}

func NewActivityService(s store.Store, bus *feed.Bus, opts Options, log zerolog.Logger) *ActivityService {
	opts.defaults()
	return &ActivityService{
		store: s,
		bus:   bus,
		opts:  opts,
		log:   log.With().Str("component", "activity-service").Logger(),
	}
}

// Create validates and persists a new activity, then announces it on the bus
// so live feeds see it without waiting for a reconciliation pass.
func (s *ActivityService) Create(ctx context.Context, a *model.Activity) (*model.Activity, error) {
	if a.OwnerID == "" {
		return nil, errors.Wrap(model.ErrValidation, "owner_id is required")
	}
	if strings.TrimSpace(a.Type) == "" {
		return nil, errors.Wrap(model.ErrValidation, "type is required")
	}
	if a.Status == "" {
		a.Status = model.StatusSuccess
	}
	if a.AmountMinorUnits < 0 {
		return nil, errors.Wrap(model.ErrValidation, "amount_minor_units must not be negative")
	}

	created, err := s.store.Activities().Insert(ctx, a)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(*created)
	return created, nil
}

// List runs a filtered, paginated listing. Store trouble after the guard has
// exhausted its retries degrades the response instead of failing it: the
// page comes back empty with Meta.Degraded set and the caller still gets a
// usable envelope.
func (s *ActivityService) List(ctx context.Context, req model.ListActivitiesRequest) (*model.ActivityPage, error) {
	start := time.Now()
	meta := model.ListMeta{RequestID: uuid.NewString()}

	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	page := &model.ActivityPage{
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    []*model.Activity{},
	}

	// A pathological offset never reaches the store: the page comes back
	// empty and valid with an estimated total instead of paying for the scan.
	if req.Offset() >= s.opts.MaxOffset {
		meta.Estimate = true
		page.Total = int64(s.opts.MaxOffset)
		meta.DurationMs = time.Since(start).Milliseconds()
		page.Meta = meta
		return page, nil
	}

	items, err := s.store.Activities().List(ctx, req)
	switch {
	case err == nil:
		page.Items = items
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		s.log.Error().Err(err).Str("request_id", meta.RequestID).Msg("activity listing degraded")
		meta.Degraded = true
		meta.Estimate = true
	}

	if !meta.Degraded {
		s.fillTotals(ctx, req, page, &meta)
	}

	meta.DurationMs = time.Since(start).Milliseconds()
	page.Meta = meta
	return page, nil
}

// Search parses a free-form query, pulls a bounded window of recent records
// for the owner and ranks them in memory. Fuzzy matching happens entirely in
// the ranker; the store only scopes and bounds the candidate set.
func (s *ActivityService) Search(ctx context.Context, ownerID, raw string) (*model.ActivityPage, error) {
	start := time.Now()
	meta := model.ListMeta{RequestID: uuid.NewString()}

	if ownerID == "" {
		return nil, errors.Wrap(model.ErrValidation, "owner_id is required")
	}
	if len(raw) > s.opts.QueryMaxLen {
		raw = raw[:s.opts.QueryMaxLen]
	}
	q := search.Parse(raw)

	req := model.ListActivitiesRequest{
		OwnerID:  ownerID,
		ID:       q.ID,
		Page:     1,
		PageSize: s.opts.SmartCandidates,
	}
	page := &model.ActivityPage{Page: 1, PageSize: s.opts.SmartTopN, Items: []*model.Activity{}}

	candidates, err := s.store.Activities().List(ctx, req)
	switch {
	case err == nil:
		ranked := search.Rank(candidates, q)
		if len(ranked) > s.opts.SmartTopN {
			ranked = ranked[:s.opts.SmartTopN]
		}
		page.Items = ranked
		page.Total = int64(len(ranked))
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		s.log.Error().Err(err).Str("request_id", meta.RequestID).Msg("activity search degraded")
		meta.Degraded = true
		meta.Estimate = true
	}

	meta.DurationMs = time.Since(start).Milliseconds()
	page.Meta = meta
	return page, nil
}

func (s *ActivityService) normalize(req *model.ListActivitiesRequest) error {
	if req.OwnerID == "" {
		return errors.Wrap(model.ErrValidation, "owner_id is required")
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = s.opts.PageSizeDefault
	}
	if req.PageSize < s.opts.PageSizeMin {
		req.PageSize = s.opts.PageSizeMin
	}
	if req.PageSize > s.opts.PageSizeMax {
		req.PageSize = s.opts.PageSizeMax
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return errors.Wrap(model.ErrValidation, "date range is inverted")
	}
	if len(req.Text) > s.opts.QueryMaxLen {
		req.Text = req.Text[:s.opts.QueryMaxLen]
	}
	return nil
}

// fillTotals computes Total and the next-page marker. A failed COUNT
// degrades to an estimate derived from the current page instead of failing
// the request.
func (s *ActivityService) fillTotals(ctx context.Context, req model.ListActivitiesRequest, page *model.ActivityPage, meta *model.ListMeta) {
	offset := req.Offset()

	total, err := s.store.Activities().Count(ctx, req)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", meta.RequestID).Msg("activity count estimated")
		meta.Estimate = true
		page.Total = int64(offset + len(page.Items))
		page.HasNextPage = len(page.Items) == req.PageSize
	} else {
		page.Total = total
		page.HasNextPage = int64(offset+len(page.Items)) < total
	}

	if page.HasNextPage {
		next := req.Page + 1
		page.NextPage = &next
	}
}
