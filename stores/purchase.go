package stores

import (
	"context"

	"gorm.io/gorm"

	"github.com/perstream/checkout/models"
)

// PurchaseStore is the durable ledger of settled purchases. Written after a
// payment succeeds; the session store stays authoritative for in-flight
// checkouts.
type PurchaseStore struct {
	BaseStore
}

func CreatePurchaseStore(db *gorm.DB) *PurchaseStore {
	return &PurchaseStore{BaseStore: BaseStore{db: db}}
}

func (s *PurchaseStore) Create(ctx context.Context, purchase *models.Purchase) error {
	return s.GetDB(ctx).Create(purchase).Error
}

func (s *PurchaseStore) GetByCheckoutID(ctx context.Context, checkoutID string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := s.GetDB(ctx).First(&purchase, "checkout_id = ?", checkoutID).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (s *PurchaseStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Purchase, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var total int64
	if err := s.GetDB(ctx).Model(&models.Purchase{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var purchases []*models.Purchase
	err := s.GetDB(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&purchases).Error
	if err != nil {
		return nil, 0, err
	}

	return purchases, total, nil
}

func (s *PurchaseStore) GetByTransactionHash(ctx context.Context, txHash string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := s.GetDB(ctx).First(&purchase, "transaction_hash = ?", txHash).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

// IsNotFound reports a lookup miss from the underlying database.
func IsNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}
