package recon

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    Ref
		ok      bool
	}{
		{
			name:    "data id string",
			payload: map[string]any{"data": map[string]any{"id": "12345"}},
			want:    Ref{PaymentID: "12345"},
			ok:      true,
		},
		{
			name:    "data id numeric",
			payload: map[string]any{"data": map[string]any{"id": float64(12345)}},
			want:    Ref{PaymentID: "12345"},
			ok:      true,
		},
		{
			name:    "payment resource url",
			payload: map[string]any{"resource": "https://api.example.com/v1/payments/987"},
			want:    Ref{PaymentID: "987"},
			ok:      true,
		},
		{
			name:    "merchant order resource url",
			payload: map[string]any{"resource": "https://api.example.com/merchant_orders/555"},
			want:    Ref{MerchantOrderID: "555"},
			ok:      true,
		},
		{
			name:    "trailing slash",
			payload: map[string]any{"resource": "https://api.example.com/v1/payments/987/"},
			want:    Ref{PaymentID: "987"},
			ok:      true,
		},
		{
			name:    "unknown shape",
			payload: map[string]any{"type": "test", "action": "payment.updated"},
			ok:      false,
		},
		{
			name:    "empty data id",
			payload: map[string]any{"data": map[string]any{"id": ""}},
			ok:      false,
		},
		{
			name:    "nil payload",
			payload: nil,
			ok:      false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.payload)
			if ok != tc.ok {
				t.Fatalf("ok: got %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("ref: got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNormalize_DataIDWinsOverResource(t *testing.T) {
	payload := map[string]any{
		"data":     map[string]any{"id": "111"},
		"resource": "https://api.example.com/merchant_orders/222",
	}
	got, ok := Normalize(payload)
	if !ok || got.PaymentID != "111" || got.MerchantOrderID != "" {
		t.Fatalf("unexpected ref: %+v ok=%v", got, ok)
	}
}
