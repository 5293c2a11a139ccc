package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/answerline/pkg/db"
	"github.com/smallbiznis/answerline/pkg/db/option"
	"gorm.io/gorm"
)

type store[T any] struct {
	conn *gorm.DB
}

// ProvideStore binds a store to conn. Pass the transaction handle to keep
// reads and writes inside it.
func ProvideStore[T any](conn *gorm.DB) Store[T] {
	return &store[T]{conn: conn}
}

func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var result T
	stmt := s.conn.WithContext(ctx).Where(query)
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	if err := stmt.First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (s *store[T]) Insert(ctx context.Context, resource *T) error {
	err := s.conn.WithContext(ctx).Create(resource).Error
	if db.IsDuplicateKeyErr(err) {
		if name := db.ViolatedConstraint(err); name != "" {
			return fmt.Errorf("%w on %s", ErrDuplicate, name)
		}
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
