package domain

import (
	"errors"
	"testing"
	"time"
)

func validOrder() Order {
	now := time.Now().UTC()
	return Order{
		ID:            "order-1",
		CustomerName:  "Maria",
		CustomerEmail: "maria@example.com",
		PaymentStatus: PaymentStatusPending,
		OrderStatus:   OrderStatusPending,
		Items: []OrderItem{
			{ProductID: "prod-1", Name: "Anel Solitário", UnitPriceMinor: 12990, Qty: 2},
		},
		SubtotalMinor:     25980,
		ShippingMinor:     2500,
		TotalMinor:        28480,
		ExternalReference: "order-1",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestOrder_ValidateInvariants(t *testing.T) {
	order := validOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected valid order, got %v", errs)
	}

	order = validOrder()
	order.CustomerEmail = ""
	assertHasErr(t, order.ValidateInvariants(), ErrCustomerEmailRequired)

	order = validOrder()
	order.Items = nil
	assertHasErr(t, order.ValidateInvariants(), ErrItemsRequired)

	order = validOrder()
	order.TotalMinor = 1
	assertHasErr(t, order.ValidateInvariants(), ErrAmountMismatch)

	order = validOrder()
	order.Items[0].Qty = 0
	assertHasErr(t, order.ValidateInvariants(), ErrItemQtyInvalid)
}

func assertHasErr(t *testing.T, errs []error, want error) {
	t.Helper()
	for _, err := range errs {
		if errors.Is(err, want) {
			return
		}
	}
	t.Fatalf("expected %v in %v", want, errs)
}

func TestOrderStatus_CanAdvanceTo(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPaid, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusPaid, OrderStatusCancelled, false},
		{OrderStatusDelivered, OrderStatusShipped, false},
		{OrderStatusCancelled, OrderStatusPaid, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsBenignSkip(t *testing.T) {
	for _, err := range []error{ErrPaymentUnresolved, ErrOrderNotFound, ErrAlreadyApplied} {
		if !IsBenignSkip(err) {
			t.Fatalf("expected %v to be a benign skip", err)
		}
	}
	if IsBenignSkip(errors.New("boom")) {
		t.Fatal("unexpected benign skip for arbitrary error")
	}
}
