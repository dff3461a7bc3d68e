// Package migrations holds the SQL schema applied at service start.
package migrations

import "embed"

// FS contains the *.up.sql files, applied in name order.
//
//go:embed *.up.sql
var FS embed.FS
