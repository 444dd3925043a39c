package focuslog

import "time"

type ExistingRecord[T ~int64] struct {
	ID        T
	CreatedAt time.Time
}

func NewExistingRecord[T ~int64](id int64) ExistingRecord[T] {
	return ExistingRecord[T]{
		ID:        T(id),
		CreatedAt: time.Now(),
	}
}
