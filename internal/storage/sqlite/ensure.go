package sqlite

import "github.com/felixgeelhaar/vibecheck/internal/domain"

// Ensure SQLite stores implement the storage interfaces.
var (
	_ domain.ProgressStore = (*ProgressStore)(nil)
	_ domain.UnitOfWork    = (*unitOfWork)(nil)
)
