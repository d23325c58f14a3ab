// Package wraperr implements the "catch, log, rewrap unless excluded"
// helper described in spec.md §4.1.2 and §9: wrap a low-level error as a
// declared kind, unless it's already one of the excluded kinds, in which
// case propagate it unchanged. This stops multiple layered wrappers from
// double-rewrapping a retryable error as fatal.
package wraperr

import (
	"errors"
	"fmt"
	"log/slog"
)

// Wrap returns kind(err) unless err already satisfies errors.Is against one
// of excluded, in which case err is returned unchanged.
func Wrap(logger *slog.Logger, err error, op string, kind error, excluded ...error) error {
	if err == nil {
		return nil
	}
	for _, ex := range excluded {
		if errors.Is(err, ex) {
			return err
		}
	}
	if logger != nil {
		logger.Error("wrapping error", slog.String("op", op), slog.Any("error", err), slog.String("kind", kind.Error()))
	}
	return fmt.Errorf("op=%s: %w: %v", op, kind, err)
}
