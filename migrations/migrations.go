// Package migrations holds the PostgreSQL schema
package migrations

import _ "embed"

// Schema creates every table and index. It is safe to apply repeatedly.
//
//go:embed 001_init.sql
var Schema string
