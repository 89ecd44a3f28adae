package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yunqi-lab/nearbuy/internal/core/domain"
)

// ErrStockConflict means the durable stock row could not be decremented for
// an admitted reservation. Redis admits at most the initial stock, so this
// indicates the row was mutated outside the admission path.
var ErrStockConflict = errors.New("durable stock row conflict")

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// CreateOrder persists an admitted reservation and reconciles the durable
// stock row in one transaction. Redelivered reservations (the stream is
// at-least-once) are detected by the primary key and skipped whole.
func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT IGNORE INTO tb_voucher_order (id, user_id, voucher_id, created_at)
		VALUES (?, ?, ?, ?)`,
		order.ID, order.UserID, order.VoucherID, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Already persisted by an earlier delivery.
		return nil
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE tb_seckill_voucher
		SET stock = stock - 1
		WHERE voucher_id = ? AND stock > 0`,
		order.VoucherID,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	rows, _ = result.RowsAffected()
	if rows == 0 {
		return ErrStockConflict
	}

	return tx.Commit()
}

func (m *MySQLAdapter) GetByID(ctx context.Context, id uint64) (*domain.Shop, error) {
	var shop domain.Shop
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, type_id, address, avg_price, sold, score, open_hours, created_at, updated_at
		FROM tb_shop WHERE id = ?`, id,
	).Scan(&shop.ID, &shop.Name, &shop.TypeID, &shop.Address, &shop.AvgPrice,
		&shop.Sold, &shop.Score, &shop.OpenHours, &shop.CreatedAt, &shop.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query shop: %w", err)
	}
	return &shop, nil
}

func (m *MySQLAdapter) Update(ctx context.Context, shop *domain.Shop) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE tb_shop
		SET name = ?, type_id = ?, address = ?, avg_price = ?, sold = ?,
		    score = ?, open_hours = ?, updated_at = NOW()
		WHERE id = ?`,
		shop.Name, shop.TypeID, shop.Address, shop.AvgPrice, shop.Sold,
		shop.Score, shop.OpenHours, shop.ID,
	)
	if err != nil {
		return fmt.Errorf("update shop: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetCampaign(ctx context.Context, voucherID uint64) (*domain.VoucherCampaign, error) {
	var c domain.VoucherCampaign
	err := m.db.QueryRowContext(ctx, `
		SELECT voucher_id, stock, begin_time, end_time
		FROM tb_seckill_voucher WHERE voucher_id = ?`, voucherID,
	).Scan(&c.VoucherID, &c.Stock, &c.BeginAt, &c.EndAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query campaign: %w", err)
	}
	return &c, nil
}

func (m *MySQLAdapter) ListCampaigns(ctx context.Context) ([]domain.VoucherCampaign, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT voucher_id, stock, begin_time, end_time
		FROM tb_seckill_voucher`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.VoucherCampaign
	for rows.Next() {
		var c domain.VoucherCampaign
		if err := rows.Scan(&c.VoucherID, &c.Stock, &c.BeginAt, &c.EndAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}
