package domain

import "testing"

func TestMapProviderStatus_Total(t *testing.T) {
	cases := []struct {
		provider string
		want     PaymentStatus
	}{
		{ProviderStatusApproved, PaymentStatusPaid},
		{ProviderStatusRejected, PaymentStatusRejected},
		{ProviderStatusPending, PaymentStatusPending},
		{ProviderStatusInProcess, PaymentStatusPending},
		{"in_mediation", PaymentStatusPending},
		{"charged_back", PaymentStatusPending},
		{"", PaymentStatusPending},
		{"totally-unknown-status", PaymentStatusPending},
	}

	for _, tc := range cases {
		got := MapProviderStatus(tc.provider)
		if got != tc.want {
			t.Fatalf("MapProviderStatus(%q) = %s, want %s", tc.provider, got, tc.want)
		}
		switch got {
		case PaymentStatusPending, PaymentStatusPaid, PaymentStatusRejected:
		default:
			t.Fatalf("MapProviderStatus(%q) returned unmapped value %s", tc.provider, got)
		}
	}
}

func TestMerchantOrder_PickPayment(t *testing.T) {
	t.Run("approved wins regardless of list order", func(t *testing.T) {
		mo := MerchantOrder{
			ID: "mo-1",
			Payments: []PaymentRecord{
				{ID: "p-pending", Status: ProviderStatusPending},
				{ID: "p-approved", Status: ProviderStatusApproved},
			},
		}
		picked, ok := mo.PickPayment()
		if !ok {
			t.Fatal("expected a payment to be picked")
		}
		if picked.ID != "p-approved" {
			t.Fatalf("expected approved payment, got %s", picked.ID)
		}
	})

	t.Run("first listed wins without approved", func(t *testing.T) {
		mo := MerchantOrder{
			ID: "mo-2",
			Payments: []PaymentRecord{
				{ID: "p-1", Status: ProviderStatusPending},
				{ID: "p-2", Status: ProviderStatusRejected},
			},
		}
		picked, ok := mo.PickPayment()
		if !ok {
			t.Fatal("expected a payment to be picked")
		}
		if picked.ID != "p-1" {
			t.Fatalf("expected first payment, got %s", picked.ID)
		}
	})

	t.Run("empty grouping yields nothing", func(t *testing.T) {
		mo := MerchantOrder{ID: "mo-3"}
		if _, ok := mo.PickPayment(); ok {
			t.Fatal("expected no payment from empty merchant order")
		}
	})
}

func TestPaymentRecord_OrderRef(t *testing.T) {
	cases := []struct {
		name string
		rec  PaymentRecord
		want string
	}{
		{
			name: "metadata order_id wins",
			rec: PaymentRecord{
				Metadata:          map[string]any{"order_id": "O1", "orderId": "O2"},
				ExternalReference: "O3",
			},
			want: "O1",
		},
		{
			name: "legacy orderId variant",
			rec: PaymentRecord{
				Metadata:          map[string]any{"orderId": "O2"},
				ExternalReference: "O3",
			},
			want: "O2",
		},
		{
			name: "external reference fallback",
			rec:  PaymentRecord{ExternalReference: "O3"},
			want: "O3",
		},
		{
			name: "non-string metadata value is ignored",
			rec: PaymentRecord{
				Metadata:          map[string]any{"order_id": 42},
				ExternalReference: "O3",
			},
			want: "O3",
		},
		{
			name: "no reference at all",
			rec:  PaymentRecord{ID: "p-1", Status: ProviderStatusApproved},
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.OrderRef(); got != tc.want {
				t.Fatalf("OrderRef() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPaymentRecord_IsZero(t *testing.T) {
	if !(PaymentRecord{}).IsZero() {
		t.Fatal("empty record must be zero")
	}
	if (PaymentRecord{ID: "p-1"}).IsZero() {
		t.Fatal("record with id must not be zero")
	}
}
