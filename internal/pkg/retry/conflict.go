package retry

import (
	"context"
	"errors"

	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
)

// DefaultConflictAttempts - сколько раз перечитывать запись при конфликте версий.
const DefaultConflictAttempts = 8

// OnConflict выполняет цикл «прочитать, проверить переход, записать» для записи
// с оптимистической блокировкой. При ErrVersionConflict запись перечитывается и
// переход проверяется заново уже на актуальном состоянии.
func OnConflict[T any](
	ctx context.Context,
	load func(ctx context.Context) (T, error),
	apply func(T) (changed bool, err error),
	save func(ctx context.Context, v T) error,
) (T, bool, error) {
	var zero T
	for attempt := 0; attempt < DefaultConflictAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}
		v, err := load(ctx)
		if err != nil {
			return zero, false, err
		}
		changed, err := apply(v)
		if err != nil || !changed {
			return v, false, err
		}
		err = save(ctx, v)
		if err == nil {
			return v, true, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return v, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить изменения")
		}
	}
	return zero, false, apperror.New(apperror.ErrCodeVersionConflict, "запись одновременно изменяется, повторите позже")
}
