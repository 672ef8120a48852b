// Package history persists run history to SQLite: one row per run plus
// its cycles, crash detections and image searches.
//
// The schema lives in the top-level migrations package and is applied by
// database.DB.Migrate. The reporting package feeds a Repository from
// interpreter events; `droidpilot history` reads it back.
package history
