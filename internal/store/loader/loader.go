// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package loader registers store drivers via blank imports.
// Import this package to ensure the default drivers are available.
package loader

import (
	// Register the json store driver
	_ "github.com/prodflow/packportal/internal/store/json"

	// Register the sqlite store driver
	_ "github.com/prodflow/packportal/internal/store/sqlite"
)
