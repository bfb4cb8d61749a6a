package problem

import "context"

// Repository appends and lists problem-list rows.
type Repository interface {
	// Append stores all rows atomically.
	Append(ctx context.Context, rows []*Problem) error
	// List returns rows newest first with the NAMASTE display joined in.
	List(ctx context.Context, limit, offset int) ([]*Problem, int, error)
}
