package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultAllocationOrder is the standard payment waterfall.
var DefaultAllocationOrder = []models.Bucket{
	models.BucketPenalty,
	models.BucketFee,
	models.BucketInterest,
	models.BucketPrincipal,
}

// ValidateOrder accepts any ordering of the four buckets, each exactly once.
func ValidateOrder(order []models.Bucket) error {
	if len(order) != len(DefaultAllocationOrder) {
		return fmt.Errorf("%w: allocation order must name %d buckets, got %d", ErrInvalidInput, len(DefaultAllocationOrder), len(order))
	}
	seen := make(map[models.Bucket]bool, len(order))
	for _, b := range order {
		switch b {
		case models.BucketPenalty, models.BucketFee, models.BucketInterest, models.BucketPrincipal:
		default:
			return fmt.Errorf("%w: unknown bucket %q", ErrInvalidInput, b)
		}
		if seen[b] {
			return fmt.Errorf("%w: bucket %q appears twice in allocation order", ErrInvalidInput, b)
		}
		seen[b] = true
	}
	return nil
}

// Allocate splits a payment across the balance buckets in waterfall order,
// filling each bucket before moving to the next. It emits at most one
// record per bucket and the records always sum to the payment amount.
//
// The payment must not exceed the snapshot's total outstanding balance; an
// overpayment yields ErrOverAllocation and no records. Pass order to
// override DefaultAllocationOrder.
func Allocate(paymentID uuid.UUID, amount decimal.Decimal, balance models.BalanceSnapshot, order ...models.Bucket) ([]models.Allocation, error) {
	if len(order) == 0 {
		order = DefaultAllocationOrder
	}
	if err := ValidateOrder(order); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive, got %s", ErrInvalidInput, amount)
	}
	if !IsMoney(amount) {
		return nil, fmt.Errorf("%w: payment amount %s has more than two decimal places", ErrInvalidInput, amount)
	}
	if amount.GreaterThan(balance.TotalOutstanding) {
		return nil, fmt.Errorf("%w: payment %s, outstanding %s", ErrOverAllocation, amount.StringFixed(2), balance.TotalOutstanding.StringFixed(2))
	}

	var allocations []models.Allocation
	remaining := amount
	for _, bucket := range order {
		if remaining.IsZero() {
			break
		}
		allocated := decimal.Min(remaining, nonNegative(balance.Bucket(bucket)))
		if !allocated.IsPositive() {
			continue
		}
		allocations = append(allocations, models.Allocation{
			PaymentID: paymentID,
			Bucket:    bucket,
			Amount:    allocated,
		})
		remaining = remaining.Sub(allocated)
	}

	// Buckets that do not add up to TotalOutstanding can still leave money over.
	if remaining.IsPositive() {
		return nil, fmt.Errorf("%w: %s left after all buckets", ErrOverAllocation, remaining.StringFixed(2))
	}
	return allocations, nil
}
