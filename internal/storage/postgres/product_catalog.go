package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

type productCatalog struct {
	db *sql.DB
}

// NewProductCatalog создаёт PostgreSQL-реализацию каталога товаров.
func NewProductCatalog(store *Store) *productCatalog {
	return &productCatalog{db: store.DB()}
}

// Get возвращает товар или ErrProductNotFound, если его нет.
func (c *productCatalog) Get(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		product domain.Product
		images  []byte
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, description, price_minor, stock, category, images
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID, &product.Name, &product.Description,
		&product.PriceMinor, &product.Stock, &product.Category, &images,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}

	if err := json.Unmarshal(images, &product.Images); err != nil {
		return domain.Product{}, fmt.Errorf("decode product images: %w", err)
	}
	return product, nil
}

// Put сохраняет или обновляет товар каталога.
func (c *productCatalog) Put(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	images, err := json.Marshal(product.Images)
	if err != nil {
		return fmt.Errorf("encode product images: %w", err)
	}
	if product.Images == nil {
		images = []byte("[]")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, price_minor, stock, category, images, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price_minor = EXCLUDED.price_minor,
			stock = EXCLUDED.stock,
			category = EXCLUDED.category,
			images = EXCLUDED.images,
			updated_at = EXCLUDED.updated_at
	`,
		product.ID, product.Name, product.Description,
		product.PriceMinor, product.Stock, product.Category,
		images, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

var _ domain.ProductCatalog = (*productCatalog)(nil)
