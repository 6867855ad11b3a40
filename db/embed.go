// Package db embeds the database schema and seed data.
package db

import _ "embed"

// Schema contains the DDL statements for all checkout tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Seed is the default coupon and VAT seed file.
//
//go:embed seed/checkout.yaml
var Seed []byte
