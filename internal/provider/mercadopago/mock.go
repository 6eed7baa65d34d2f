package mercadopago

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

var (
	_ domain.PaymentProvider   = (*MockProvider)(nil)
	_ domain.PreferenceService = (*MockProvider)(nil)
)

// MockProvider — конфигурируемая заглушка провайдера для тестов и
// локального запуска без учётной записи Mercado Pago.
type MockProvider struct {
	mu sync.Mutex

	Payments       map[string]domain.PaymentRecord
	ByReference    map[string][]domain.PaymentRecord
	MerchantOrders map[string]domain.MerchantOrder

	// GetResponses — очередь ответов GetPayment по порядку вызовов;
	// пока очередь не пуста, она имеет приоритет над Payments.
	GetResponses []domain.PaymentRecord

	GetErr        error
	SearchErr     error
	MerchantErr   error
	PreferenceErr error

	GetCalls        int
	SearchCalls     int
	MerchantCalls   int
	PreferenceCalls int
}

// NewMockProvider возвращает пустую заглушку.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Payments:       make(map[string]domain.PaymentRecord),
		ByReference:    make(map[string][]domain.PaymentRecord),
		MerchantOrders: make(map[string]domain.MerchantOrder),
	}
}

// GetPayment возвращает настроенный платёж; отсутствие платежа — нулевая
// запись без ошибки, как у реального API с задержкой публикации.
func (m *MockProvider) GetPayment(ctx context.Context, id string) (domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if m.GetErr != nil {
		return domain.PaymentRecord{}, m.GetErr
	}
	if len(m.GetResponses) > 0 {
		rec := m.GetResponses[0]
		m.GetResponses = m.GetResponses[1:]
		return rec, nil
	}
	return m.Payments[id], nil
}

// SearchPaymentsByReference возвращает настроенный результат поиска.
func (m *MockProvider) SearchPaymentsByReference(ctx context.Context, ref string) ([]domain.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SearchCalls++
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return m.ByReference[ref], nil
}

// GetMerchantOrder возвращает настроенную группировку платежей.
func (m *MockProvider) GetMerchantOrder(ctx context.Context, id string) (domain.MerchantOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MerchantCalls++
	if m.MerchantErr != nil {
		return domain.MerchantOrder{}, m.MerchantErr
	}
	mo, ok := m.MerchantOrders[id]
	if !ok {
		return domain.MerchantOrder{}, fmt.Errorf("merchant order %s not found", id)
	}
	return mo, nil
}

// CreatePreference возвращает синтетическую преференцию.
func (m *MockProvider) CreatePreference(ctx context.Context, req domain.PreferenceRequest) (domain.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PreferenceCalls++
	if m.PreferenceErr != nil {
		return domain.Preference{}, m.PreferenceErr
	}
	id := uuid.NewString()
	return domain.Preference{
		ID:        id,
		InitPoint: "https://sandbox.local/checkout/" + id,
	}, nil
}
