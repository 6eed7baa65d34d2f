package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

// productCatalogInMemory — простая in-memory реализация каталога товаров.
type productCatalogInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductCatalog возвращает in-memory каталог для локальной разработки и тестов.
func NewProductCatalog() *productCatalogInMemory {
	return &productCatalogInMemory{
		items: make(map[string]domain.Product),
	}
}

// Put сохраняет или перезаписывает товар.
func (c *productCatalogInMemory) Put(product domain.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[product.ID] = product
	return nil
}

// Get возвращает товар или ErrProductNotFound, если его нет.
func (c *productCatalogInMemory) Get(id string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	product, ok := c.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// decrement уменьшает остаток на qty с нижней границей ноль.
func (c *productCatalogInMemory) decrement(id string, qty int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	product, ok := c.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.Stock -= qty
	if product.Stock < 0 {
		product.Stock = 0
	}
	c.items[id] = product
	return nil
}

func (c *productCatalogInMemory) exists(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.items[id]
	return ok
}

var _ domain.ProductCatalog = (*productCatalogInMemory)(nil)
