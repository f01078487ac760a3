package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/circuitbreaker"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type Postgres struct {
	DB      *sql.DB
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps db. breaker may be nil.
func NewPostgres(db *sql.DB, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *Postgres {
	return &Postgres{DB: db, breaker: breaker, logger: logger}
}

// Open connects with dsn and waits up to attempts*delay for the server to answer.
func Open(ctx context.Context, dsn string, attempts int, delay time.Duration, logger *logrus.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			return db, nil
		}
		logger.WithField("attempt", i+1).Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	db.Close()
	return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", attempts, err)
}

// IsInfraFailure separates outages from answers. A missing row, a data exception
// (class 22, e.g. a value too long for its column) or a constraint violation (class 23)
// means the database is healthy and must not trip the breaker.
func IsInfraFailure(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return false
		}
	}
	return true
}

func (p *Postgres) run(ctx context.Context, fn func(context.Context) error) error {
	if p.breaker == nil {
		return fn(ctx)
	}
	return p.breaker.Execute(ctx, fn)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.run(ctx, p.DB.PingContext)
}

func (p *Postgres) Close() error {
	return p.DB.Close()
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema `%s`: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (p *Postgres) ListCategories(ctx context.Context) ([]models.Category, error) {
	var out []models.Category
	err := p.run(ctx, func(ctx context.Context) error {
		rows, err := p.DB.QueryContext(ctx, `
			SELECT id, name, description, sort_order
			FROM categories
			ORDER BY sort_order, id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var c models.Category
			var desc sql.NullString
			if err := rows.Scan(&c.ID, &c.Name, &desc, &c.Order); err != nil {
				return err
			}
			c.Description = nullableString(desc)
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperr.Persistence("list categories", err)
	}
	return out, nil
}

func (p *Postgres) CreateCategory(ctx context.Context, c models.Category) (*models.Category, error) {
	if c.ID == "" {
		c.ID = models.CategorySlug(c.Name)
	}
	err := p.run(ctx, func(ctx context.Context) error {
		_, err := p.DB.ExecContext(ctx,
			"INSERT INTO categories (id, name, description, sort_order) VALUES ($1, $2, $3, $4)",
			c.ID, c.Name, c.Description, c.Order)
		return err
	})
	if isPQCode(err, pqUniqueViolation) {
		return nil, fmt.Errorf("category %s: %w", c.ID, apperr.ErrAlreadyExists)
	}
	if err != nil {
		return nil, apperr.Persistence("create category", err)
	}
	return &c, nil
}

const menuItemColumns = "id, name, description, price, category_id, image_url, available, popular"

func scanMenuItem(s interface{ Scan(...interface{}) error }) (models.MenuItem, error) {
	var item models.MenuItem
	var image sql.NullString
	err := s.Scan(&item.ID, &item.Name, &item.Description, &item.Price, &item.CategoryID,
		&image, &item.Available, &item.Popular)
	item.ImageURL = nullableString(image)
	return item, err
}

func (p *Postgres) ListMenuItems(ctx context.Context) ([]models.MenuItem, error) {
	var out []models.MenuItem
	err := p.run(ctx, func(ctx context.Context) error {
		rows, err := p.DB.QueryContext(ctx, "SELECT "+menuItemColumns+" FROM menu_items ORDER BY seq")
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			item, err := scanMenuItem(rows)
			if err != nil {
				return err
			}
			out = append(out, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperr.Persistence("list menu items", err)
	}
	return out, nil
}

func (p *Postgres) GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error) {
	var item models.MenuItem
	err := p.run(ctx, func(ctx context.Context) error {
		var err error
		item, err = scanMenuItem(p.DB.QueryRowContext(ctx,
			"SELECT "+menuItemColumns+" FROM menu_items WHERE id = $1", id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get menu item", err)
	}
	return &item, nil
}

func (p *Postgres) CreateMenuItem(ctx context.Context, item models.MenuItem) (*models.MenuItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	var created models.MenuItem
	err := p.run(ctx, func(ctx context.Context) error {
		var err error
		created, err = scanMenuItem(p.DB.QueryRowContext(ctx, `
			INSERT INTO menu_items (id, name, description, price, category_id, image_url, available, popular)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+menuItemColumns,
			item.ID, item.Name, item.Description, item.Price, item.CategoryID, item.ImageURL,
			item.Available, item.Popular))
		return err
	})
	if isPQCode(err, pqForeignKeyViolation) {
		return nil, apperr.NewValidationError("categoryId", "unknown category")
	}
	if isPQCode(err, pqUniqueViolation) {
		return nil, fmt.Errorf("menu item %s: %w", item.ID, apperr.ErrAlreadyExists)
	}
	if err != nil {
		return nil, apperr.Persistence("create menu item", err)
	}
	return &created, nil
}

// UpdateMenuItem writes only the fields set in patch, in a single statement.
func (p *Postgres) UpdateMenuItem(ctx context.Context, id string, patch models.MenuItemPatch) (*models.MenuItem, error) {
	var updated models.MenuItem
	err := p.run(ctx, func(ctx context.Context) error {
		var err error
		updated, err = scanMenuItem(p.DB.QueryRowContext(ctx, `
			UPDATE menu_items SET
				name = COALESCE($2, name),
				description = COALESCE($3, description),
				price = COALESCE($4::NUMERIC, price),
				category_id = COALESCE($5, category_id),
				image_url = COALESCE($6, image_url),
				available = COALESCE($7, available),
				popular = COALESCE($8, popular)
			WHERE id = $1
			RETURNING `+menuItemColumns,
			id, patch.Name, patch.Description, patch.Price, patch.CategoryID, patch.ImageURL,
			patch.Available, patch.Popular))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if isPQCode(err, pqForeignKeyViolation) {
		return nil, apperr.NewValidationError("categoryId", "unknown category")
	}
	if err != nil {
		return nil, apperr.Persistence("update menu item", err)
	}
	return &updated, nil
}

const orderColumns = `id, seq, customer_name, customer_email, customer_phone, items, total_amount,
	delivery_fee, order_type, delivery_address, notes, preferred_time, status, livreur_id,
	user_id, created_at, updated_at`

func scanOrder(s interface{ Scan(...interface{}) error }) (models.Order, error) {
	var (
		o                       models.Order
		items                   []byte
		address, notes, prefers sql.NullString
		livreur, user           sql.NullInt64
	)
	err := s.Scan(&o.ID, &o.Seq, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone, &items,
		&o.TotalAmount, &o.DeliveryFee, &o.FulfillmentType, &address, &notes, &prefers,
		&o.Status, &livreur, &user, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	o.DeliveryAddress = nullableString(address)
	o.Notes = nullableString(notes)
	o.PreferredTime = nullableString(prefers)
	o.LivreurID = nullableInt64(livreur)
	o.UserID = nullableInt64(user)
	return o, nil
}

// CreateOrder writes the item snapshot once as JSONB; nothing updates it afterwards.
func (p *Postgres) CreateOrder(ctx context.Context, o models.Order) (*models.Order, error) {
	if !o.Status.Valid() {
		return nil, apperr.Persistence("create order", fmt.Errorf("unknown status %q", o.Status))
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, apperr.Persistence("create order", err)
	}

	var created models.Order
	err = p.run(ctx, func(ctx context.Context) error {
		var err error
		created, err = scanOrder(p.DB.QueryRowContext(ctx, `
			INSERT INTO orders (id, customer_name, customer_email, customer_phone, items,
				total_amount, delivery_fee, order_type, delivery_address, notes, preferred_time,
				status, livreur_id, user_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING `+orderColumns,
			o.ID, o.CustomerName, o.CustomerEmail, o.CustomerPhone, string(items),
			o.TotalAmount, o.DeliveryFee, o.FulfillmentType, o.DeliveryAddress, o.Notes,
			o.PreferredTime, o.Status, o.LivreurID, o.UserID, o.CreatedAt, o.UpdatedAt))
		return err
	})
	if isPQCode(err, pqUniqueViolation) {
		return nil, fmt.Errorf("order %s: %w", o.ID, apperr.ErrAlreadyExists)
	}
	if err != nil {
		return nil, apperr.Persistence("create order", err)
	}
	return &created, nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := p.run(ctx, func(ctx context.Context) error {
		var err error
		o, err = scanOrder(p.DB.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get order", err)
	}
	return &o, nil
}

func (p *Postgres) ListOrders(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	err := p.run(ctx, func(ctx context.Context) error {
		rows, err := p.DB.QueryContext(ctx, "SELECT "+orderColumns+" FROM orders ORDER BY seq")
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return err
			}
			out = append(out, o)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	return out, nil
}

// CompareAndSetStatus is a single guarded UPDATE. When no row matches, a follow-up read
// tells a missing order apart from one whose state moved on.
func (p *Postgres) CompareAndSetStatus(ctx context.Context, id string, change models.StatusChange, at time.Time) (*models.Order, error) {
	query := `UPDATE orders SET status = $1, updated_at = $2, livreur_id = COALESCE($3::BIGINT, livreur_id)
		WHERE id = $4 AND status = $5`
	args := []interface{}{change.To, at, change.AssignLivreur, id, change.From}
	if change.RequireUnassigned {
		query += " AND livreur_id IS NULL"
	}
	if change.RequireLivreur != nil {
		args = append(args, *change.RequireLivreur)
		query += fmt.Sprintf(" AND livreur_id = $%d", len(args))
	}
	query += " RETURNING " + orderColumns

	var updated models.Order
	err := p.run(ctx, func(ctx context.Context) error {
		var err error
		updated, err = scanOrder(p.DB.QueryRowContext(ctx, query, args...))
		return err
	})
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Persistence("update order status", err)
	}

	current, err := p.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"order_id": id,
		"status":   current.Status,
		"wanted":   change.To,
	}).Info("Order status write lost a race")
	return nil, &apperr.ConflictError{Current: current}
}

func (p *Postgres) CreateReservation(ctx context.Context, r models.Reservation) (*models.Reservation, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := p.run(ctx, func(ctx context.Context) error {
		_, err := p.DB.ExecContext(ctx, `
			INSERT INTO reservations (id, name, email, phone, date, time, party_size,
				special_requests, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, r.Name, r.Email, r.Phone, r.Date, r.Time, r.PartySize, r.SpecialRequests,
			r.Status, r.CreatedAt)
		return err
	})
	if err != nil {
		return nil, apperr.Persistence("create reservation", err)
	}
	return &r, nil
}

func (p *Postgres) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	var out []models.Reservation
	err := p.run(ctx, func(ctx context.Context) error {
		rows, err := p.DB.QueryContext(ctx, `
			SELECT id, name, email, phone, date, time, party_size, special_requests, status, created_at
			FROM reservations
			ORDER BY created_at DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var r models.Reservation
			var requests sql.NullString
			if err := rows.Scan(&r.ID, &r.Name, &r.Email, &r.Phone, &r.Date, &r.Time,
				&r.PartySize, &requests, &r.Status, &r.CreatedAt); err != nil {
				return err
			}
			r.SpecialRequests = nullableString(requests)
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperr.Persistence("list reservations", err)
	}
	return out, nil
}

const actorColumns = "id, email, name, phone, role, active, password_hash, created_at"

func scanActor(s interface{ Scan(...interface{}) error }) (models.Actor, error) {
	var a models.Actor
	var phone sql.NullString
	err := s.Scan(&a.ID, &a.Email, &a.Name, &phone, &a.Role, &a.Active, &a.PasswordHash, &a.CreatedAt)
	a.Phone = nullableString(phone)
	return a, err
}

func (p *Postgres) CreateActor(ctx context.Context, a models.Actor) (*models.Actor, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var created models.Actor
	err := p.run(ctx, func(ctx context.Context) error {
		var err error
		created, err = scanActor(p.DB.QueryRowContext(ctx, `
			INSERT INTO actors (email, name, phone, role, active, password_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+actorColumns,
			strings.ToLower(a.Email), a.Name, a.Phone, a.Role, a.Active, a.PasswordHash, a.CreatedAt))
		return err
	})
	if isPQCode(err, pqUniqueViolation) {
		return nil, apperr.ErrEmailTaken
	}
	if err != nil {
		return nil, apperr.Persistence("create actor", err)
	}
	return &created, nil
}

func (p *Postgres) GetActor(ctx context.Context, id int64) (*models.Actor, error) {
	return p.getActor(ctx, "id = $1", id)
}

func (p *Postgres) GetActorByEmail(ctx context.Context, email string) (*models.Actor, error) {
	return p.getActor(ctx, "email = $1", strings.ToLower(email))
}

func (p *Postgres) getActor(ctx context.Context, where string, arg interface{}) (*models.Actor, error) {
	var a models.Actor
	err := p.run(ctx, func(ctx context.Context) error {
		var err error
		a, err = scanActor(p.DB.QueryRowContext(ctx, "SELECT "+actorColumns+" FROM actors WHERE "+where, arg))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get actor", err)
	}
	return &a, nil
}

func (p *Postgres) ListActors(ctx context.Context) ([]models.Actor, error) {
	var out []models.Actor
	err := p.run(ctx, func(ctx context.Context) error {
		rows, err := p.DB.QueryContext(ctx, "SELECT "+actorColumns+" FROM actors ORDER BY id")
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			a, err := scanActor(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperr.Persistence("list actors", err)
	}
	return out, nil
}

func (p *Postgres) UpdateActor(ctx context.Context, id int64, update ActorUpdate) (*models.Actor, error) {
	var a models.Actor
	err := p.run(ctx, func(ctx context.Context) error {
		var err error
		a, err = scanActor(p.DB.QueryRowContext(ctx, `
			UPDATE actors SET
				name = COALESCE($2, name),
				role = COALESCE($3, role),
				active = COALESCE($4, active)
			WHERE id = $1
			RETURNING `+actorColumns,
			id, update.Name, update.Role, update.Active))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("update actor", err)
	}
	return &a, nil
}

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}
