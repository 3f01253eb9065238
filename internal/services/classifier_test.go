package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		source   models.PaymentSource
		expected models.Direction
	}{
		{
			name:     "sale is income",
			source:   models.PaymentSource{Kind: models.SourceSale},
			expected: models.DirectionIncome,
		},
		{
			name:     "sale return is expense",
			source:   models.PaymentSource{Kind: models.SourceSale, IsReturn: true},
			expected: models.DirectionExpense,
		},
		{
			name:     "purchase is expense",
			source:   models.PaymentSource{Kind: models.SourcePurchase},
			expected: models.DirectionExpense,
		},
		{
			name:     "purchase return is income",
			source:   models.PaymentSource{Kind: models.SourcePurchase, IsReturn: true},
			expected: models.DirectionIncome,
		},
		{
			name:     "expense record is expense",
			source:   models.PaymentSource{Kind: models.SourceExpense},
			expected: models.DirectionExpense,
		},
		{
			name:     "salary record is expense",
			source:   models.PaymentSource{Kind: models.SourceSalary},
			expected: models.DirectionExpense,
		},
		{
			name:     "no link is transfer",
			source:   models.PaymentSource{},
			expected: models.DirectionTransfer,
		},
		{
			name:     "return flag alone never matters",
			source:   models.PaymentSource{IsReturn: true},
			expected: models.DirectionTransfer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.source))
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	src := models.PaymentSource{Kind: models.SourcePurchase, IsReturn: true}
	first := Classify(src)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(src))
	}
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "income", models.DirectionIncome.String())
	assert.Equal(t, "expense", models.DirectionExpense.String())
	assert.Equal(t, "transfer", models.DirectionTransfer.String())
}

func TestPaymentSourceRef(t *testing.T) {
	saleID := uuid.New()
	salaryID := uuid.New()

	t.Run("single link resolves", func(t *testing.T) {
		p := models.Payment{SaleID: &saleID}
		kind, id, err := p.SourceRef()
		assert.NoError(t, err)
		assert.Equal(t, models.SourceSale, kind)
		assert.Equal(t, saleID, *id)
	})

	t.Run("no link resolves to none", func(t *testing.T) {
		p := models.Payment{}
		kind, id, err := p.SourceRef()
		assert.NoError(t, err)
		assert.Equal(t, models.SourceNone, kind)
		assert.Nil(t, id)
	})

	t.Run("two links are rejected", func(t *testing.T) {
		p := models.Payment{SaleID: &saleID, SalaryID: &salaryID}
		_, _, err := p.SourceRef()
		assert.ErrorIs(t, err, models.ErrAmbiguousSource)
	})
}
