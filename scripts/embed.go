// Package scripts embeds the built-in ingestion scripts, one per language
// under ingest/, so xrefdb works without a scripts directory on disk.
package scripts

import "embed"

//go:embed ingest/*.risor
var FS embed.FS
