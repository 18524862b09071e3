// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package fields

import (
	"strings"

	"github.com/prodflow/packportal/internal/domain"
)

// statusSynonyms maps normalized category labels to approval statuses.
// The platform's configurable labels have drifted across deployments, so
// the match is synonym-tolerant rather than exact. Unrecognized labels
// fall through to pending-approval; an unknown status is never promoted
// to approved.
var statusSynonyms = map[string]domain.Status{
	"approved by customer":       domain.StatusApprovedByCustomer,
	"approve specification":      domain.StatusApprovedByCustomer,
	"approved":                   domain.StatusApprovedByCustomer,
	"customer approved":          domain.StatusApprovedByCustomer,
	"approved-by-customer":       domain.StatusApprovedByCustomer,
	"changes requested":          domain.StatusChangesRequested,
	"request changes":            domain.StatusChangesRequested,
	"changes required":           domain.StatusChangesRequested,
	"customer requested changes": domain.StatusChangesRequested,
	"changes-requested":          domain.StatusChangesRequested,
}

// MapStatus maps a raw category label to an approval status. The match is
// case-insensitive and whitespace-normalized, and total: every input maps
// to exactly one of the three statuses, defaulting to pending-approval.
func MapStatus(raw string) domain.Status {
	if s, ok := statusSynonyms[normalizeStatus(raw)]; ok {
		return s
	}
	return domain.StatusPendingApproval
}

func normalizeStatus(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// StatusLabel returns the canonical platform label written back for a
// status update.
func StatusLabel(s domain.Status) string {
	switch s {
	case domain.StatusApprovedByCustomer:
		return "Approved by Customer"
	case domain.StatusChangesRequested:
		return "Changes Requested"
	default:
		return "Pending Approval"
	}
}
