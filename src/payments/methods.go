package payments

import (
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/models/scopes"
	"carepay/src/types"
	"context"
	"errors"
	"log"

	"gorm.io/gorm"
)

func (s *Service) loadPayer(ctx context.Context, payerId uint) (*models.User, error) {
	var payer models.User
	if err := s.db.WithContext(ctx).Scopes(scopes.WithID(payerId)).First(&payer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.WithKind(types.FAILURE_PRECONDITION, types.ErrNotFound)
		}
		return nil, types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	return &payer, nil
}

// ListPaymentMethods returns the payer's stored cards. A payer without a
// provider customer has none.
func (s *Service) ListPaymentMethods(ctx context.Context, payerId uint) ([]lib.PaymentMethod, error) {
	payer, err := s.loadPayer(ctx, payerId)
	if err != nil {
		return nil, err
	}
	if payer.StripeCustomerId == nil || *payer.StripeCustomerId == "" {
		return []lib.PaymentMethod{}, nil
	}
	return s.gw.ListPaymentMethods(ctx, *payer.StripeCustomerId)
}

func (s *Service) SavePaymentMethod(ctx context.Context, payerId uint, paymentMethodId string) (*lib.PaymentMethod, error) {
	payer, err := s.loadPayer(ctx, payerId)
	if err != nil {
		return nil, err
	}
	customerId, err := s.ensureCustomer(ctx, payer)
	if err != nil {
		return nil, err
	}
	return s.attach(ctx, paymentMethodId, customerId)
}

// RemovePaymentMethod detaches a card the payer owns. Cards that do not exist
// and cards owned by someone else both report not found.
func (s *Service) RemovePaymentMethod(ctx context.Context, payerId uint, paymentMethodId string) error {
	notFound := types.WithKind(types.FAILURE_PRECONDITION, types.ErrNotFound)
	payer, err := s.loadPayer(ctx, payerId)
	if err != nil {
		return err
	}
	if payer.StripeCustomerId == nil || *payer.StripeCustomerId == "" {
		return notFound
	}
	pm, err := s.gw.GetPaymentMethod(ctx, paymentMethodId)
	if err != nil {
		if lib.FailureKindOf(err) == types.FAILURE_TRANSIENT {
			return err
		}
		return notFound
	}
	if pm.CustomerID != *payer.StripeCustomerId {
		log.Printf("[Payments] Payer %d attempted to remove payment method %s they do not own\n", payerId, paymentMethodId)
		return notFound
	}
	return s.gw.DetachPaymentMethod(ctx, paymentMethodId)
}
