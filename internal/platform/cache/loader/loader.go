// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package loader registers cache drivers via blank imports.
// Import this package to ensure the default cache drivers are available.
package loader

import (
	// Register the memory cache driver
	_ "github.com/prodflow/packportal/internal/platform/cache/memory"

	// Register the redis cache driver
	_ "github.com/prodflow/packportal/internal/platform/cache/redis"
)
