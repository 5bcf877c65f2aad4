package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, ", "))
}

// changeHook bumps the snapshot cache after a committed write. A failed bump
// is logged; the write already succeeded.
type changeHook struct {
	logger *slog.Logger
	cache  Invalidator
}

func (h changeHook) changed(ctx context.Context, what string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Bump(ctx); err != nil && h.logger != nil {
		h.logger.Warn("rbac cache bump", slog.String("change", what), slog.Any("error", err))
	}
}
