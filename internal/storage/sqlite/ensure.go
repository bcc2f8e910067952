package sqlite

import (
	"github.com/felixgeelhaar/drill/internal/review"
)

// Ensure SQLite stores implement the storage interfaces.
var (
	_ review.Store = (*ReviewStore)(nil)
)
