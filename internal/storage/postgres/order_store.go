package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

const (
	opTimeout = 5 * time.Second
	// Сверка выполняет несколько statements под row lock,
	// поэтому её бюджет шире обычного.
	reconcileTimeout = 15 * time.Second
)

const orderColumns = `
	id, customer_name, customer_email, payment_status, order_status,
	subtotal_minor, shipping_minor, total_minor,
	last_applied_payment_id, external_reference, preference_id,
	addr_recipient, addr_phone, addr_postal_code, addr_street, addr_number,
	addr_complement, addr_district, addr_city, addr_state,
	tracking_code, shipped_at, created_at, updated_at`

type orderStore struct {
	db *sql.DB
}

// NewOrderStore создаёт PostgreSQL-реализацию OrderStore.
func NewOrderStore(store *Store) domain.OrderStore {
	return &orderStore{db: store.DB()}
}

func (s *orderStore) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_name, customer_email, payment_status, order_status,
			subtotal_minor, shipping_minor, total_minor,
			last_applied_payment_id, external_reference, preference_id,
			addr_recipient, addr_phone, addr_postal_code, addr_street, addr_number,
			addr_complement, addr_district, addr_city, addr_state,
			tracking_code, shipped_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	`,
		order.ID, order.CustomerName, order.CustomerEmail,
		string(order.PaymentStatus), string(order.OrderStatus),
		order.SubtotalMinor, order.ShippingMinor, order.TotalMinor,
		order.LastAppliedPaymentID, order.ExternalReference, order.PreferenceID,
		order.Address.Recipient, order.Address.Phone, order.Address.PostalCode,
		order.Address.Street, order.Address.Number, order.Address.Complement,
		order.Address.District, order.Address.City, order.Address.State,
		order.TrackingCode, nullTime(order.ShippedAt), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, unit_price_minor, qty)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, order.ID, i, item.ProductID, item.Name, item.UnitPriceMinor, item.Qty); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (s *orderStore) FindByID(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id)
	return s.scanOrderWithItems(ctx, s.db, row)
}

func (s *orderStore) FindByExternalReference(ref string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT`+orderColumns+`
		FROM orders
		WHERE external_reference = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, ref)
	return s.scanOrderWithItems(ctx, s.db, row)
}

func (s *orderStore) SetPreference(orderID, preferenceID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET preference_id = $2,
		    updated_at = $3
		WHERE id = $1
	`, orderID, preferenceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set order preference: %w", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

func (s *orderStore) AdvanceOrderStatus(id string, from, to domain.OrderStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET order_status = $3,
		    shipped_at = CASE WHEN $3 = 'shipped' AND shipped_at IS NULL THEN $4 ELSE shipped_at END,
		    updated_at = $4
		WHERE id = $1
		  AND order_status = $2
	`, id, string(from), string(to), now)
	if err != nil {
		return fmt.Errorf("advance order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := s.orderExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderStatusConflict
	}
	return nil
}

func (s *orderStore) MarkShipped(id, trackingCode string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET order_status = 'shipped',
		    tracking_code = $2,
		    shipped_at = $3,
		    updated_at = $3
		WHERE id = $1
		  AND order_status = 'paid'
	`, id, trackingCode, now)
	if err != nil {
		return fmt.Errorf("mark order shipped: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := s.orderExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderStatusConflict
	}
	return nil
}

func (s *orderStore) ListByOrderStatus(status domain.OrderStatus, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT` + orderColumns + `
		FROM orders
		WHERE order_status = $1
		ORDER BY created_at ASC, id ASC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+" LIMIT $2", string(status), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("list orders by status: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := loadItems(ctx, s.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// Reconcile открывает транзакцию, блокирует строку заказа SELECT ... FOR UPDATE
// и выполняет fn. Конкурентные сверки одного заказа сериализуются на row lock;
// любая ошибка fn откатывает все накопленные мутации.
func (s *orderStore) Reconcile(orderID string, fn func(tx domain.ReconTx, order *domain.Order) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconcile tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	var order domain.Order
	order, err = scanOrder(row)
	if err != nil {
		return err
	}
	order.Items, err = loadItems(ctx, tx, orderID)
	if err != nil {
		return err
	}

	if err = fn(&reconTx{ctx: ctx, tx: tx}, &order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reconcile tx: %w", err)
	}
	return nil
}

// reconTx выполняет мутации сверки внутри открытой транзакции.
type reconTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *reconTx) SaveOrderPayment(order domain.Order) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE orders
		SET payment_status = $2,
		    order_status = $3,
		    last_applied_payment_id = $4,
		    updated_at = $5
		WHERE id = $1
	`,
		order.ID, string(order.PaymentStatus), string(order.OrderStatus),
		order.LastAppliedPaymentID, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save order payment fields: %w", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

func (t *reconTx) DecrementStock(productID string, qty int32) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE products
		SET stock = GREATEST(stock - $2, 0),
		    updated_at = NOW()
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement product stock: %w", err)
	}
	return requireAffected(res, domain.ErrProductNotFound)
}

func (t *reconTx) StageEvent(msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now, now)
	if err != nil {
		return fmt.Errorf("stage outbox event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *orderStore) scanOrderWithItems(ctx context.Context, q queryer, row rowScanner) (domain.Order, error) {
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items, err = loadItems(ctx, q, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		paymentStatus string
		orderStatus   string
		shippedAt     sql.NullTime
	)

	err := row.Scan(
		&order.ID, &order.CustomerName, &order.CustomerEmail,
		&paymentStatus, &orderStatus,
		&order.SubtotalMinor, &order.ShippingMinor, &order.TotalMinor,
		&order.LastAppliedPaymentID, &order.ExternalReference, &order.PreferenceID,
		&order.Address.Recipient, &order.Address.Phone, &order.Address.PostalCode,
		&order.Address.Street, &order.Address.Number, &order.Address.Complement,
		&order.Address.District, &order.Address.City, &order.Address.State,
		&order.TrackingCode, &shippedAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}

	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.OrderStatus = domain.OrderStatus(orderStatus)
	if shippedAt.Valid {
		order.ShippedAt = shippedAt.Time.UTC()
	}
	return order, nil
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, name, unit_price_minor, qty
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.UnitPriceMinor, &item.Qty); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func (s *orderStore) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderStore = (*orderStore)(nil)
var _ domain.ReconTx = (*reconTx)(nil)
