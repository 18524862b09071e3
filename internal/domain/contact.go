// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package domain holds the portal's typed records. Everything here is an
// application-side view of an item stored in the third-party platform;
// the platform remains the system of record.
package domain

// Contact is a customer identity, an immutable snapshot fetched at login.
type Contact struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	LogoURL  string `json:"logo_url,omitempty"`
}
