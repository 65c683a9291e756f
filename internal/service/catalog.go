package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tillcore/backend/internal/codes"
	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/rights"
	"tillcore/backend/internal/store"
)

func (s *Service) CreateProductType(ctx context.Context, req domain.ProductTypeCreateRequest) (*domain.ProductType, error) {
	if _, err := s.authorize(ctx, rights.Catalogue); err != nil {
		return nil, err
	}

	req.Description = strings.TrimSpace(req.Description)
	req.Code = strings.TrimSpace(req.Code)
	if req.Description == "" {
		return nil, ErrInvalidDescription
	}
	if !codes.ValidBarcode(req.Code) {
		return nil, ErrInvalidCode
	}
	req.UnitPrice = domain.RoundMoney(req.UnitPrice)
	if !req.UnitPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}

	var created *domain.ProductType
	err := s.mutate(ctx, "catalogue.create_product_type", nil, func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = tx.CreateProductType(ctx, domain.ProductType{
			Code:        req.Code,
			Description: req.Description,
			UnitPrice:   req.UnitPrice,
			Note:        strings.TrimSpace(req.Note),
		})
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("code %s: %w", req.Code, ErrCodeTaken)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "product_type_create", "product_type", created.ID, fmt.Sprintf("code=%s,price=%s", created.Code, created.UnitPrice))
	return created, nil
}

func (s *Service) ListProductTypes(ctx context.Context) ([]domain.ProductType, error) {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return nil, err
	}

	var types []domain.ProductType
	err := s.view(ctx, "catalogue.list_product_types", func(ctx context.Context, r store.Reader) error {
		var err error
		types, err = r.ListProductTypes(ctx)
		return err
	})
	return types, err
}

func (s *Service) GetProductTypeByBarCode(ctx context.Context, code string) (*domain.ProductType, error) {
	if _, err := s.authorize(ctx, rights.Catalogue); err != nil {
		return nil, err
	}
	if !codes.ValidBarcode(code) {
		return nil, ErrInvalidCode
	}

	var pt *domain.ProductType
	err := s.view(ctx, "catalogue.get_product_type", func(ctx context.Context, r store.Reader) error {
		var err error
		pt, err = r.GetProductTypeByCode(ctx, code)
		return notFound(err, "product type %s", code)
	})
	return pt, err
}

// UpdateQuantity adjusts on-hand stock by delta. Only shelved product types
// can be adjusted and the result may not drop below zero.
func (s *Service) UpdateQuantity(ctx context.Context, id int64, delta int) error {
	if _, err := s.authorize(ctx, rights.Catalogue); err != nil {
		return err
	}
	if id <= 0 {
		return ErrInvalidProductID
	}

	err := s.mutate(ctx, "catalogue.update_quantity", nil, func(ctx context.Context, tx store.Tx) error {
		pt, err := tx.GetProductTypeByID(ctx, id)
		if err != nil {
			return notFound(err, "product type %d", id)
		}
		if !pt.HasLocation() {
			return ErrMissingLocation
		}
		if pt.Quantity+delta < 0 {
			return ErrInsufficientStock
		}
		pt.Quantity += delta
		return tx.UpdateProductType(ctx, *pt)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "product_type_quantity", "product_type", id, fmt.Sprintf("delta=%d", delta))
	return nil
}

// UpdatePosition assigns a shelf location; an empty location clears it.
func (s *Service) UpdatePosition(ctx context.Context, id int64, location string) error {
	if _, err := s.authorize(ctx, rights.Catalogue); err != nil {
		return err
	}
	if id <= 0 {
		return ErrInvalidProductID
	}
	location = strings.TrimSpace(location)
	if location != "" && !codes.ValidLocation(location) {
		return ErrInvalidLocation
	}

	err := s.mutate(ctx, "catalogue.update_position", nil, func(ctx context.Context, tx store.Tx) error {
		pt, err := tx.GetProductTypeByID(ctx, id)
		if err != nil {
			return notFound(err, "product type %d", id)
		}
		if location != "" {
			holder, err := tx.GetProductTypeByLocation(ctx, location)
			switch {
			case err == nil && holder.ID != id:
				return fmt.Errorf("location %s: %w", location, ErrLocationTaken)
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return err
			}
		}
		pt.Location = location
		err = tx.UpdateProductType(ctx, *pt)
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("location %s: %w", location, ErrLocationTaken)
		}
		return err
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "product_type_position", "product_type", id, "location="+location)
	return nil
}

func (s *Service) GetProductByRFID(ctx context.Context, rfid string) (*domain.Product, error) {
	if _, err := s.authorize(ctx, rights.Sales); err != nil {
		return nil, err
	}
	if !codes.ValidRFID(rfid) {
		return nil, ErrInvalidRFID
	}

	var product *domain.Product
	err := s.view(ctx, "catalogue.get_product", func(ctx context.Context, r store.Reader) error {
		var err error
		product, err = r.GetProduct(ctx, rfid)
		return notFound(err, "product %s", rfid)
	})
	return product, err
}
