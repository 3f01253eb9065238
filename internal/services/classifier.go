package services

import (
	"github.com/Tanvir-Hossain-Khondaker-Nabil/new-almodina-sub007/internal/models"
)

// Classify maps a payment's resolved source entity to its balance direction.
// Pure and total: status and amount never influence the result, and an
// absent or unresolved link falls back to Transfer (no balance effect)
// rather than failing.
//
// Resolution order, first match wins:
//  1. sale, not a return        -> income
//  2. purchase return           -> income (money comes back to the business)
//  3. purchase                  -> expense
//  4. expense record            -> expense
//  5. salary record             -> expense
//  6. sale return               -> expense (money goes back to the customer)
//  7. no link (manual transfer) -> transfer
func Classify(src models.PaymentSource) models.Direction {
	switch src.Kind {
	case models.SourceSale:
		if src.IsReturn {
			return models.DirectionExpense
		}
		return models.DirectionIncome
	case models.SourcePurchase:
		if src.IsReturn {
			return models.DirectionIncome
		}
		return models.DirectionExpense
	case models.SourceExpense, models.SourceSalary:
		return models.DirectionExpense
	default:
		return models.DirectionTransfer
	}
}
