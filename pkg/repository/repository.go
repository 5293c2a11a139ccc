package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/answerline/pkg/db/option"
)

// ErrDuplicate wraps a unique-constraint violation reported by Insert.
var ErrDuplicate = errors.New("duplicate_record")

// Store is a generic gorm store bound to a connection or an open transaction.
// FindOne returns (nil, nil) when no row matches.
type Store[T any] interface {
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Insert(ctx context.Context, resource *T) error
}
