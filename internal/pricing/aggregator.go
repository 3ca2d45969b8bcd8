// Package pricing computes ticket totals from line-item snapshots.
package pricing

import (
	"repair-shop-service/internal/models"

	"github.com/shopspring/decimal"
)

// PartsCost sums priceAtUse * quantity over all ticket parts
func PartsCost(items []models.TicketPart) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// RepairsCost sums priceAtUse over all ticket repairs
func RepairsCost(items []models.TicketRepair) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.PriceAtUse)
	}
	return total
}

// Total adds parts and repairs cost
func Total(partsCost, repairsCost decimal.Decimal) decimal.Decimal {
	return partsCost.Add(repairsCost)
}

// Compute builds the full set of ticket totals from the current line items
func Compute(parts []models.TicketPart, repairs []models.TicketRepair) models.TicketTotals {
	partsCost := PartsCost(parts)
	repairsCost := RepairsCost(repairs)
	return models.TicketTotals{
		PartsCost:   partsCost,
		RepairsCost: repairsCost,
		TotalPrice:  Total(partsCost, repairsCost),
	}
}
