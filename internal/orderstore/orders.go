package orderstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/jumboxerox/opsconsole/internal/model"
)

// File is one stored artifact of an order.
type File struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// OrderRecord is an order row together with its file records.
type OrderRecord struct {
	ID             string
	CustomerName   string
	PaymentStatus  string
	CreatedAt      time.Time
	FilesDeleted   bool
	FilesDeletedAt time.Time
	Files          []File
}

// ToModel converts the record to the listing representation.
func (r OrderRecord) ToModel() (model.Order, error) {
	o := model.Order{
		ID:            r.ID,
		PaymentStatus: r.PaymentStatus,
		CreatedAt:     r.CreatedAt,
		FilesDeleted:  r.FilesDeleted,
		Files:         make([]json.RawMessage, 0, len(r.Files)),
	}
	if r.CustomerName != "" {
		o.User = &model.Customer{Name: r.CustomerName}
	}
	for _, f := range r.Files {
		raw, err := gojson.Marshal(f)
		if err != nil {
			return model.Order{}, fmt.Errorf("encode file %s of %s: %w", f.Name, r.ID, err)
		}
		o.Files = append(o.Files, raw)
	}
	return o, nil
}

// InsertOrders writes orders and their file records in one transaction.
func (s *Store) InsertOrders(ctx context.Context, records []OrderRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	orderStmt, err := tx.PrepareContext(ctx, `INSERT INTO orders (id, customer_name, payment_status, created_at, files_deleted, files_deleted_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer orderStmt.Close()

	fileStmt, err := tx.PrepareContext(ctx, `INSERT INTO order_files (order_id, seq, name, path, size_bytes) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer fileStmt.Close()

	for _, r := range records {
		if r.ID == "" {
			return errors.New("order insert: empty id")
		}
		status := r.PaymentStatus
		if status == "" {
			status = "pending"
		}
		var deletedAt any
		if !r.FilesDeletedAt.IsZero() {
			deletedAt = r.FilesDeletedAt
		}
		if _, err := orderStmt.ExecContext(ctx, r.ID, r.CustomerName, status, r.CreatedAt, r.FilesDeleted, deletedAt); err != nil {
			return fmt.Errorf("order insert %s: %w", r.ID, err)
		}
		for i, f := range r.Files {
			if _, err := fileStmt.ExecContext(ctx, r.ID, i, f.Name, f.Path, f.Size); err != nil {
				return fmt.Errorf("file insert %s/%s: %w", r.ID, f.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// searchFilter matches the search term against the id or the customer name,
// ignoring case. An empty term matches everything.
func searchFilter(search string) (string, []any) {
	search = strings.TrimSpace(search)
	if search == "" {
		return "", nil
	}
	pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
	return `WHERE lower(id) LIKE ? ESCAPE '\' OR lower(coalesce(customer_name, '')) LIKE ? ESCAPE '\'`,
		[]any{pattern, pattern}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListForDeletion returns one page of orders, oldest first. Orders whose
// files are already gone are still listed so the console can show them
// as deleted.
func (s *Store) ListForDeletion(ctx context.Context, search string, page, limit int) (model.OrderPage, error) {
	if limit <= 0 {
		limit = model.DefaultPageSize
	}
	page = max(page, 1)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	where, args := searchFilter(search)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders "+where, args...).Scan(&total); err != nil {
		return model.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, coalesce(customer_name, ''), payment_status, created_at, files_deleted, files_deleted_at
		 FROM orders `+where+` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		append(args, limit, (page-1)*limit)...)
	if err != nil {
		return model.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	records, err := scanOrders(rows)
	if err != nil {
		return model.OrderPage{}, err
	}
	if err := s.attachFiles(ctx, records); err != nil {
		return model.OrderPage{}, err
	}

	out := model.OrderPage{
		Orders:      make([]model.Order, 0, len(records)),
		TotalPages:  max(1, (total+limit-1)/limit),
		CurrentPage: page,
		TotalOrders: total,
	}
	for _, r := range records {
		o, err := r.ToModel()
		if err != nil {
			return model.OrderPage{}, err
		}
		out.Orders = append(out.Orders, o)
	}
	return out, nil
}

func scanOrders(rows *sql.Rows) ([]OrderRecord, error) {
	defer rows.Close()
	var out []OrderRecord
	for rows.Next() {
		var (
			r         OrderRecord
			deletedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.CustomerName, &r.PaymentStatus, &r.CreatedAt, &r.FilesDeleted, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if deletedAt.Valid {
			r.FilesDeletedAt = deletedAt.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// attachFiles loads the file records of every order in records.
func (s *Store) attachFiles(ctx context.Context, records []OrderRecord) error {
	if len(records) == 0 {
		return nil
	}
	idx := make(map[string]int, len(records))
	placeholders := make([]string, len(records))
	args := make([]any, len(records))
	for i, r := range records {
		idx[r.ID] = i
		placeholders[i] = "?"
		args[i] = r.ID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, name, path, size_bytes FROM order_files
		 WHERE order_id IN (`+strings.Join(placeholders, ", ")+`) ORDER BY order_id, seq`, args...)
	if err != nil {
		return fmt.Errorf("list order files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			f       File
		)
		if err := rows.Scan(&orderID, &f.Name, &f.Path, &f.Size); err != nil {
			return fmt.Errorf("scan order file: %w", err)
		}
		i := idx[orderID]
		records[i].Files = append(records[i].Files, f)
	}
	return rows.Err()
}

// Get returns one order with its files.
func (s *Store) Get(ctx context.Context, id string) (OrderRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, coalesce(customer_name, ''), payment_status, created_at, files_deleted, files_deleted_at
		 FROM orders WHERE id = ?`, id)
	if err != nil {
		return OrderRecord{}, fmt.Errorf("get order: %w", err)
	}
	records, err := scanOrders(rows)
	if err != nil {
		return OrderRecord{}, err
	}
	if len(records) == 0 {
		return OrderRecord{}, ErrNotFound
	}
	if err := s.attachFiles(ctx, records); err != nil {
		return OrderRecord{}, err
	}
	return records[0], nil
}

// MarkFilesDeleted flags the order's files as removed at the given time.
// It fails with ErrNotFound or ErrAlreadyDeleted without changing anything.
func (s *Store) MarkFilesDeleted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var deleted bool
	err := s.db.QueryRowContext(ctx, "SELECT files_deleted FROM orders WHERE id = ?", id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup order %s: %w", id, err)
	}
	if deleted {
		return ErrAlreadyDeleted
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE orders SET files_deleted = true, files_deleted_at = ? WHERE id = ?", at, id); err != nil {
		return fmt.Errorf("mark files deleted %s: %w", id, err)
	}
	return nil
}

// Counts reports how many orders exist and how many have no files left.
func (s *Store) Counts(ctx context.Context) (total, deleted int, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(*) FILTER (WHERE files_deleted) FROM orders").Scan(&total, &deleted)
	if err != nil {
		return 0, 0, fmt.Errorf("count orders: %w", err)
	}
	return total, deleted, nil
}
