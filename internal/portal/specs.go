// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prodflow/packportal/internal/domain"
	"github.com/prodflow/packportal/internal/platform/cache"
	"github.com/prodflow/packportal/internal/platform/logutil"
	"github.com/prodflow/packportal/internal/podio"
	"github.com/prodflow/packportal/internal/podio/fields"
)

// ErrChangesRequired is returned by RequestChanges when no reason text
// was supplied.
var ErrChangesRequired = errors.New("portal: change request needs a description")

// specPageSize bounds the spec listing fetched for one customer.
const specPageSize = 100

// SpecService reads and updates packing specs on behalf of a logged-in
// customer. Listings are snapshotted into the cache so that read paths
// survive upstream rate limiting and outages.
type SpecService struct {
	api       Caller
	cache     cache.Cache
	specAppID int64
	log       *slog.Logger
	now       func() time.Time
}

// NewSpecService creates the spec review/approval service.
func NewSpecService(api Caller, c cache.Cache, specAppID int64, log *slog.Logger) *SpecService {
	return &SpecService{
		api:       api,
		cache:     c,
		specAppID: specAppID,
		log:       logutil.NoopIfNil(log),
		now:       time.Now,
	}
}

func listKey(contactID int64) string {
	return fmt.Sprintf("specs:list:%d", contactID)
}

// List returns the packing specs assigned to the given contact, newest
// first. On upstream failure it falls back to the last cached snapshot;
// the second return value reports whether the data is stale. With
// forceRefresh the snapshot is dropped before fetching, so a failure
// surfaces instead of serving old data.
func (s *SpecService) List(ctx context.Context, contactID int64, forceRefresh bool) ([]domain.PackingSpec, bool, error) {
	key := listKey(contactID)

	if forceRefresh {
		if err := s.cache.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrNotFound) {
			s.log.Warn("failed to drop spec snapshot", "error", err)
		}
	}

	specs, err := s.fetchList(ctx, contactID)
	if err == nil {
		if data, merr := json.Marshal(specs); merr == nil {
			if cerr := s.cache.Set(ctx, key, data, cache.TTLSnapshot); cerr != nil {
				s.log.Warn("failed to cache spec snapshot", "error", cerr)
			}
		}
		return specs, false, nil
	}

	data, cerr := s.cache.Get(ctx, key)
	if cerr != nil {
		return nil, false, err
	}

	var cached []domain.PackingSpec
	if uerr := json.Unmarshal(data, &cached); uerr != nil {
		return nil, false, err
	}

	s.log.Warn("serving stale spec snapshot", "contact_id", contactID, "error", err)
	return cached, true, nil
}

func (s *SpecService) fetchList(ctx context.Context, contactID int64) ([]domain.PackingSpec, error) {
	raw, err := s.api.Post(ctx, fmt.Sprintf("/item/app/%d/filter/", s.specAppID), map[string]any{
		"filters": map[string]any{
			fields.SpecCustomerField: []int64{contactID},
		},
		"limit":     specPageSize,
		"sort_by":   "created_on",
		"sort_desc": true,
	})
	if err != nil {
		return nil, err
	}

	var resp fields.FilterResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: spec listing", podio.ErrMalformedResponse)
	}

	specs := make([]domain.PackingSpec, 0, len(resp.Items))
	for i := range resp.Items {
		specs = append(specs, fields.BuildPackingSpec(&resp.Items[i]))
	}
	return specs, nil
}

// Get returns a single packing spec with its comment thread. A failure
// fetching comments degrades to a spec without comments rather than
// failing the whole read.
func (s *SpecService) Get(ctx context.Context, itemID int64) (*domain.PackingSpec, error) {
	raw, err := s.api.Get(ctx, fmt.Sprintf("/item/%d", itemID))
	if err != nil {
		return nil, err
	}

	var item fields.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("%w: item %d", podio.ErrMalformedResponse, itemID)
	}

	spec := fields.BuildPackingSpec(&item)

	comments, err := s.fetchComments(ctx, itemID)
	if err != nil {
		s.log.Warn("failed to fetch comments", "item_id", itemID, "error", err)
	} else {
		spec.Comments = comments
	}

	return &spec, nil
}

func (s *SpecService) fetchComments(ctx context.Context, itemID int64) ([]domain.Comment, error) {
	raw, err := s.api.Get(ctx, fmt.Sprintf("/comment/item/%d/", itemID))
	if err != nil {
		return nil, err
	}

	var rcs []fields.RawComment
	if err := json.Unmarshal(raw, &rcs); err != nil {
		return nil, fmt.Errorf("%w: comments for item %d", podio.ErrMalformedResponse, itemID)
	}

	return fields.BuildComments(rcs), nil
}

// Approve marks the spec as approved by the customer, records who
// approved it and when, and leaves an audit comment on the item. The
// customer's list snapshot is invalidated so the next read is fresh.
func (s *SpecService) Approve(ctx context.Context, contactID, itemID int64, approver string) (*domain.PackingSpec, error) {
	payload := fields.BuildUpdatePayload(domain.StatusApprovedByCustomer, "", fields.UpdateExtra{
		ApprovedBy:   approver,
		ApprovalDate: s.now(),
	})
	if _, err := s.api.Put(ctx, fmt.Sprintf("/item/%d", itemID), payload); err != nil {
		return nil, err
	}

	s.log.Info("spec approved", "item_id", itemID, "approver", approver)

	if _, err := s.AddComment(ctx, itemID, fmt.Sprintf("Approved by %s via the customer portal.", approver)); err != nil {
		s.log.Warn("failed to record approval comment", "item_id", itemID, "error", err)
	}

	s.invalidate(ctx, contactID)
	return s.Get(ctx, itemID)
}

// RequestChanges marks the spec as needing changes, stores the reason on
// the item, and posts it to the comment thread. The reason is mandatory.
func (s *SpecService) RequestChanges(ctx context.Context, contactID, itemID int64, author, reason string) (*domain.PackingSpec, error) {
	if reason == "" {
		return nil, ErrChangesRequired
	}

	payload := fields.BuildUpdatePayload(domain.StatusChangesRequested, reason, fields.UpdateExtra{})
	if _, err := s.api.Put(ctx, fmt.Sprintf("/item/%d", itemID), payload); err != nil {
		return nil, err
	}

	s.log.Info("changes requested", "item_id", itemID, "author", author)

	if _, err := s.AddComment(ctx, itemID, fmt.Sprintf("Changes requested by %s: %s", author, reason)); err != nil {
		s.log.Warn("failed to record change-request comment", "item_id", itemID, "error", err)
	}

	s.invalidate(ctx, contactID)
	return s.Get(ctx, itemID)
}

// AddComment posts a comment to the spec's thread and returns it as the
// platform recorded it.
func (s *SpecService) AddComment(ctx context.Context, itemID int64, text string) (*domain.Comment, error) {
	raw, err := s.api.Post(ctx, fmt.Sprintf("/comment/item/%d/", itemID), map[string]any{
		"value": text,
	})
	if err != nil {
		return nil, err
	}

	var rc fields.RawComment
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("%w: created comment", podio.ErrMalformedResponse)
	}

	c := fields.BuildComment(&rc)
	return &c, nil
}

func (s *SpecService) invalidate(ctx context.Context, contactID int64) {
	if err := s.cache.Delete(ctx, listKey(contactID)); err != nil && !errors.Is(err, cache.ErrNotFound) {
		s.log.Warn("failed to invalidate spec snapshot", "error", err)
	}
}
