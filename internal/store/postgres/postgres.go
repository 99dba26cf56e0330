package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"solemate/backend/internal/domain"
	"solemate/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stock_items (
			position         BIGSERIAL,
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			category         TEXT NOT NULL DEFAULT '',
			description      TEXT NOT NULL DEFAULT '',
			image_url        TEXT NOT NULL DEFAULT '',
			purchase_date    TIMESTAMPTZ NOT NULL,
			initial_quantity INTEGER NOT NULL,
			current_quantity INTEGER NOT NULL,
			unit_cost        NUMERIC(14,2) NOT NULL,
			total_cost       NUMERIC(14,2) NOT NULL,
			variants         JSONB NOT NULL DEFAULT '[]',
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_records (
			position            BIGSERIAL,
			id                  TEXT PRIMARY KEY,
			stock_id            TEXT NOT NULL,
			variant_id          TEXT NOT NULL DEFAULT '',
			size                TEXT NOT NULL DEFAULT '',
			color               TEXT NOT NULL DEFAULT '',
			quantity_sold       INTEGER NOT NULL,
			sale_price_per_unit NUMERIC(14,2) NOT NULL,
			sale_date           TIMESTAMPTZ NOT NULL,
			total_revenue       NUMERIC(14,2) NOT NULL,
			profit              NUMERIC(14,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cost_changes (
			id            TEXT PRIMARY KEY,
			stock_id      TEXT NOT NULL,
			old_unit_cost NUMERIC(14,2) NOT NULL,
			new_unit_cost NUMERIC(14,2) NOT NULL,
			changed_by    TEXT NOT NULL DEFAULT '',
			changed_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cost_changes_stock ON cost_changes (stock_id, changed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id             TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL DEFAULT '',
			actor_role     TEXT NOT NULL DEFAULT '',
			action         TEXT NOT NULL,
			entity_type    TEXT NOT NULL DEFAULT '',
			entity_id      TEXT NOT NULL DEFAULT '',
			detail         TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS users (
			username   TEXT PRIMARY KEY,
			password   TEXT NOT NULL,
			role       TEXT NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const stockColumns = `id, name, category, description, image_url, purchase_date,
	initial_quantity, current_quantity, unit_cost, total_cost, variants`

func scanStock(row interface{ Scan(...any) error }) (domain.StockItem, error) {
	var item domain.StockItem
	var variantsJSON []byte
	err := row.Scan(
		&item.ID, &item.Name, &item.Category, &item.Description, &item.ImageURL,
		&item.PurchaseDate, &item.InitialQuantity, &item.CurrentQuantity,
		&item.UnitCost, &item.TotalCost, &variantsJSON,
	)
	if err != nil {
		return domain.StockItem{}, err
	}
	if err := json.Unmarshal(variantsJSON, &item.Variants); err != nil {
		return domain.StockItem{}, fmt.Errorf("decode variants for %s: %w", item.ID, err)
	}
	return item, nil
}

func (s *Store) ListStocks(ctx context.Context) ([]domain.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_items
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stocks := make([]domain.StockItem, 0, 64)
	for rows.Next() {
		item, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stocks, nil
}

func (s *Store) GetStock(ctx context.Context, id string) (*domain.StockItem, error) {
	item, err := scanStock(s.db.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_items
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.ID == "" || item.Name == "" {
		return nil, store.ErrInvalidInput
	}
	variantsJSON, err := json.Marshal(item.Variants)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stock_items (id, name, category, description, image_url, purchase_date,
			initial_quantity, current_quantity, unit_cost, total_cost, variants, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
	`, item.ID, item.Name, item.Category, item.Description, item.ImageURL, item.PurchaseDate,
		item.InitialQuantity, item.CurrentQuantity, item.UnitCost, item.TotalCost, variantsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) ReplaceStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.ID == "" || item.Name == "" {
		return nil, store.ErrInvalidInput
	}
	variantsJSON, err := json.Marshal(item.Variants)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_items
		SET name = $2, category = $3, description = $4, image_url = $5, purchase_date = $6,
			initial_quantity = $7, current_quantity = $8, unit_cost = $9, total_cost = $10,
			variants = $11, updated_at = now()
		WHERE id = $1
	`, item.ID, item.Name, item.Category, item.Description, item.ImageURL, item.PurchaseDate,
		item.InitialQuantity, item.CurrentQuantity, item.UnitCost, item.TotalCost, variantsJSON)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := item
	return &updated, nil
}

func (s *Store) DeleteStock(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stock_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const saleColumns = `id, stock_id, variant_id, size, color, quantity_sold,
	sale_price_per_unit, sale_date, total_revenue, profit`

func scanSale(row interface{ Scan(...any) error }) (domain.SaleRecord, error) {
	var sale domain.SaleRecord
	err := row.Scan(
		&sale.ID, &sale.StockID, &sale.VariantID, &sale.Size, &sale.Color,
		&sale.QuantitySold, &sale.SalePricePerUnit, &sale.SaleDate,
		&sale.TotalRevenue, &sale.Profit,
	)
	return sale, err
}

func (s *Store) ListSales(ctx context.Context) ([]domain.SaleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sale_records
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0, 128)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleRecord, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sale_records
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) CommitSale(ctx context.Context, updated domain.StockItem, records []domain.SaleRecord) error {
	if len(records) == 0 {
		return store.ErrInvalidInput
	}
	variantsJSON, err := json.Marshal(updated.Variants)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE stock_items
		SET current_quantity = $2, variants = $3, updated_at = now()
		WHERE id = $1
	`, updated.ID, updated.CurrentQuantity, variantsJSON)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	for _, record := range records {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_records (id, stock_id, variant_id, size, color, quantity_sold,
				sale_price_per_unit, sale_date, total_revenue, profit)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, record.ID, record.StockID, record.VariantID, record.Size, record.Color,
			record.QuantitySold, record.SalePricePerUnit, record.SaleDate,
			record.TotalRevenue, record.Profit)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrInvalidInput
			}
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) CommitRefund(ctx context.Context, saleID string, updated *domain.StockItem) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_records WHERE id = $1`, saleID); err != nil {
		return err
	}

	if updated != nil {
		variantsJSON, err := json.Marshal(updated.Variants)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_items
			SET current_quantity = $2, variants = $3, updated_at = now()
			WHERE id = $1
		`, updated.ID, updated.CurrentQuantity, variantsJSON)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ReplaceAll(ctx context.Context, stocks []domain.StockItem, sales []domain.SaleRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `TRUNCATE stock_items, sale_records`); err != nil {
		return err
	}

	for _, item := range stocks {
		variantsJSON, err := json.Marshal(item.Variants)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_items (id, name, category, description, image_url, purchase_date,
				initial_quantity, current_quantity, unit_cost, total_cost, variants, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		`, item.ID, item.Name, item.Category, item.Description, item.ImageURL, item.PurchaseDate,
			item.InitialQuantity, item.CurrentQuantity, item.UnitCost, item.TotalCost, variantsJSON)
		if err != nil {
			return err
		}
	}

	for _, record := range sales {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_records (id, stock_id, variant_id, size, color, quantity_sold,
				sale_price_per_unit, sale_date, total_revenue, profit)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, record.ID, record.StockID, record.VariantID, record.Size, record.Color,
			record.QuantitySold, record.SalePricePerUnit, record.SaleDate,
			record.TotalRevenue, record.Profit)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) CreateCostChange(ctx context.Context, entry domain.CostChange) error {
	if entry.ID == "" || entry.StockID == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_changes (id, stock_id, old_unit_cost, new_unit_cost, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.StockID, entry.OldUnitCost, entry.NewUnitCost, entry.ChangedBy, entry.ChangedAt)
	return err
}

func (s *Store) ListCostChanges(ctx context.Context, stockID string, limit int) ([]domain.CostChange, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stock_id, old_unit_cost, new_unit_cost, changed_by, changed_at
		FROM cost_changes
		WHERE stock_id = $1
		ORDER BY changed_at DESC, id DESC
		LIMIT $2
	`, stockID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.CostChange, 0, limit)
	for rows.Next() {
		var entry domain.CostChange
		if err := rows.Scan(&entry.ID, &entry.StockID, &entry.OldUnitCost, &entry.NewUnitCost,
			&entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
