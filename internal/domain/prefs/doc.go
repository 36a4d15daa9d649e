// Package prefs provides per-package persistent preferences.
//
// Each package owns data/<id>/<file>.json. Getters take a default; an
// explicit default wins over the defaults the store was opened with.
// Changes are batched in an Editor and written atomically by Commit, so a
// crash mid-write leaves the previous file intact.
//
// Example Usage:
//
//	store, _ := manager.Open("com.example.notes", "")
//	theme := store.String("theme", "dark")
//	err := store.Edit().PutString("theme", "light").PutInt("font", 14).Commit()
package prefs
