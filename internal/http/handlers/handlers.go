// Package handlers provides HTTP API handlers for aicg.
package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/aicg/aicg/internal/models"
)

// apiError maps a classified pipeline error onto the matching HTTP
// status. Unclassified errors surface as 500 with the given message.
func apiError(err error, msg string) error {
	var pe *models.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case models.ErrKindValidation:
			return huma.Error422UnprocessableEntity(pe.Error())
		case models.ErrKindNotFound:
			return huma.Error404NotFound(pe.Error())
		case models.ErrKindConflict:
			return huma.Error409Conflict(pe.Error())
		}
	}
	return huma.Error500InternalServerError(msg, err)
}
