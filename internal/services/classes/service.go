// Package classes manages the school classes users belong to.
package classes

import (
	"context"
	"errors"
	"strings"

	"school-meals/internal/apperr"
	"school-meals/internal/logger"
	"school-meals/internal/models"
	"school-meals/internal/storage"
)

const maxNameLength = 20

type Service struct {
	store  storage.Store
	logger *logger.Logger
}

func NewService(store storage.Store, log *logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

func (s *Service) List(ctx context.Context) ([]models.Class, error) {
	var out []models.Class
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListClasses(ctx)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap("list classes", err)
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, name string) (models.Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Class{}, apperr.Invalid("name", "class name is required")
	}
	if len(name) > maxNameLength {
		return models.Class{}, apperr.Invalid("name", "class name must be at most 20 characters")
	}

	var c models.Class
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		c, err = tx.CreateClass(ctx, name)
		if errors.Is(err, storage.ErrDuplicate) {
			return apperr.Conflict("class %q already exists", name)
		}
		return err
	})
	if err != nil {
		return models.Class{}, apperr.Wrap("create class", err)
	}
	return c, nil
}

// Delete removes a class no user belongs to
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		err := tx.DeleteClass(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return apperr.NotFound("class %d not found", id)
		case errors.Is(err, storage.ErrForeignKey):
			return apperr.Conflict("class %d still has users", id)
		}
		return err
	})
	return apperr.Wrap("delete class", err)
}
