package debt

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateDebt(debt *Debt) error {
	return d.db.Create(debt).Error
}

func (d *Database) GetDebt(debtID string) (*Debt, error) {
	var debt Debt
	if err := d.db.Where("debt_id = ?", debtID).First(&debt).Error; err != nil {
		return nil, err
	}
	return &debt, nil
}

func (d *Database) GetDebtByExternalRefundID(refundID string) (*Debt, error) {
	var debt Debt
	if err := d.db.Where("external_refund_id = ?", refundID).First(&debt).Error; err != nil {
		return nil, err
	}
	return &debt, nil
}

func (d *Database) GetCreatorDebts(creatorID string, unreconciledOnly bool) ([]Debt, error) {
	q := d.db.Where("creator_id = ?", creatorID)
	if unreconciledOnly {
		q = q.Where("reconciled = ?", false)
	}
	var debts []Debt
	if err := q.Order("created_at ASC").Find(&debts).Error; err != nil {
		return nil, err
	}
	return debts, nil
}

func (d *Database) ListUnreconciled() ([]Debt, error) {
	var debts []Debt
	if err := d.db.Where("reconciled = ?", false).
		Order("created_at ASC").Find(&debts).Error; err != nil {
		return nil, err
	}
	return debts, nil
}

// SumUnreconciled totals the outstanding unreconciled debt for a creator.
func (d *Database) SumUnreconciled(creatorID string) (decimal.Decimal, error) {
	debts, err := d.GetCreatorDebts(creatorID, true)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, debt := range debts {
		total = total.Add(debt.Amount)
	}
	return total, nil
}

// MarkReconciled flips an unreconciled debt to reconciled; guarded so a
// second reconciliation of the same debt reports no rows.
func (d *Database) MarkReconciled(debtID, method, reference string) (int64, error) {
	now := time.Now()
	result := d.db.Model(&Debt{}).
		Where("debt_id = ? AND reconciled = ?", debtID, false).
		Updates(map[string]interface{}{
			"reconciled":            true,
			"reconciliation_method": method,
			"reversal_reference_id": reference,
			"reconciled_at":         now,
			"updated_at":            now,
		})
	return result.RowsAffected, result.Error
}

// IsNotFound reports whether err is the backing store's missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
