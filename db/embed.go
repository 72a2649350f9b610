// Package db embeds the PostgreSQL schema for products, coupons, the
// discount ledger and API keys.
package db

import _ "embed"

// Schema is applied idempotently by repository.RunMigrations.
//
//go:embed migrations/001_schema.sql
var Schema string
