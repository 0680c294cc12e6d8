// Package store defines interfaces for persistence dependencies (the analysis
// run repository). Implementations live in other packages; this package must
// not import database drivers or concrete clients.
package store
