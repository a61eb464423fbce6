// Package pricing exposes the single per-meal price.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"school-meals/internal/apperr"
	"school-meals/internal/logger"
	"school-meals/internal/storage"
)

type Service struct {
	store  storage.Store
	logger *logger.Logger
}

func NewService(store storage.Store, log *logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

func (s *Service) Get(ctx context.Context) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		price, err = tx.GetPrice(ctx)
		return err
	})
	return price, apperr.Wrap("get price", err)
}

// Set replaces the price; orders placed earlier keep their debits
func (s *Service) Set(ctx context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperr.Invalid("price", "price must not be negative")
	}
	if !amount.Equal(amount.Round(2)) {
		return apperr.Invalid("price", "price must have at most two decimal places")
	}

	err := s.store.Update(ctx, func(tx storage.Tx) error {
		return tx.SetPrice(ctx, amount)
	})
	if err != nil {
		return apperr.Wrap("set price", err)
	}

	s.logger.Info("price_updated", "Meal price updated", logger.RequestID(ctx), map[string]interface{}{
		"price": amount.StringFixed(2),
	})
	return nil
}
