// Package db embeds the PostgreSQL schema.
package db

import _ "embed"

// Schema holds idempotent DDL for products, options, members and orders.
//
//go:embed migrations/001_schema.sql
var Schema string
