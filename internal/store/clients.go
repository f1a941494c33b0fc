package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gentlechase/api/internal/importer"
)

const (
	ClientActive   = "active"
	ClientInactive = "inactive"
)

type Client struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Email     string
	Phone     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const clientColumns = `id, user_id, name, email, phone, status, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (Client, error) {
	var c Client
	var email, phone *string
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &email, &phone, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Client{}, err
	}
	c.Email, c.Phone = deref(email), deref(phone)
	return c, nil
}

type ClientFilter struct {
	// Status is "active", "inactive" or empty for all.
	Status string
	// Q matches name, email or phone as a case-insensitive substring.
	Q string
}

func (s *Store) ListClients(ctx context.Context, userID uuid.UUID, f ClientFilter) ([]Client, error) {
	var status, q *string
	if f.Status != "" {
		status = &f.Status
	}
	if trimmed := strings.TrimSpace(f.Q); trimmed != "" {
		pattern := "%" + strings.ToLower(trimmed) + "%"
		q = &pattern
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE user_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL
		       OR lower(name) LIKE $3
		       OR lower(COALESCE(email, '')) LIKE $3
		       OR COALESCE(phone, '') LIKE $3)
		ORDER BY created_at DESC
	`, userID, status, q)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	out := []Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type ClientCounts struct {
	Total    int
	Active   int
	Inactive int
}

func (s *Store) CountClients(ctx context.Context, userID uuid.UUID) (ClientCounts, error) {
	var c ClientCounts
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'inactive')
		FROM clients WHERE user_id = $1
	`, userID).Scan(&c.Total, &c.Active, &c.Inactive)
	if err != nil {
		return ClientCounts{}, fmt.Errorf("count clients: %w", err)
	}
	return c, nil
}

type ClientParams struct {
	Name   string
	Email  string
	Phone  string
	Status string
}

func (s *Store) CreateClient(ctx context.Context, userID uuid.UUID, p ClientParams) (Client, error) {
	status := p.Status
	if status == "" {
		status = ClientActive
	}
	c, err := scanClient(s.db.QueryRow(ctx, `
		INSERT INTO clients (user_id, name, email, phone, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+clientColumns,
		userID, strings.TrimSpace(p.Name), nullable(p.Email), nullable(p.Phone), status))
	if err != nil {
		return Client{}, fmt.Errorf("insert client: %w", err)
	}
	return c, nil
}

func (s *Store) GetClient(ctx context.Context, userID, clientID uuid.UUID) (Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1 AND user_id = $2`, clientID, userID))
	if err != nil {
		return Client{}, notFound(err)
	}
	return c, nil
}

func (s *Store) UpdateClient(ctx context.Context, userID, clientID uuid.UUID, p ClientParams) (Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `
		UPDATE clients
		SET name = $3, email = $4, phone = $5,
		    status = COALESCE(NULLIF($6, ''), status),
		    updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+clientColumns,
		clientID, userID, strings.TrimSpace(p.Name), nullable(p.Email), nullable(p.Phone), p.Status))
	if err != nil {
		return Client{}, notFound(err)
	}
	return c, nil
}

func (s *Store) ToggleClientStatus(ctx context.Context, userID, clientID uuid.UUID) (Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `
		UPDATE clients
		SET status = CASE status WHEN 'active' THEN 'inactive' ELSE 'active' END,
		    updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+clientColumns,
		clientID, userID))
	if err != nil {
		return Client{}, notFound(err)
	}
	return c, nil
}

// DeleteClient removes the client. Its invoices keep the denormalized
// client name and lose the link.
func (s *Store) DeleteClient(ctx context.Context, userID, clientID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM clients WHERE id = $1 AND user_id = $2`, clientID, userID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FetchClients(ctx context.Context, userID uuid.UUID) ([]importer.Client, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name FROM clients WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch clients: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (importer.Client, error) {
		var c importer.Client
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
}

// CreateClients inserts all clients in one statement and returns the new
// ids with their names.
func (s *Store) CreateClients(ctx context.Context, userID uuid.UUID, clients []importer.NewClient) ([]importer.Client, error) {
	if len(clients) == 0 {
		return nil, nil
	}
	names := make([]string, len(clients))
	emails := make([]*string, len(clients))
	phones := make([]*string, len(clients))
	for i, c := range clients {
		names[i], emails[i], phones[i] = c.Name, c.Email, c.Phone
	}

	rows, err := s.db.Query(ctx, `
		INSERT INTO clients (user_id, name, email, phone, status)
		SELECT $1, n, e, p, 'active'
		FROM unnest($2::text[], $3::text[], $4::text[]) AS t(n, e, p)
		RETURNING id, name
	`, userID, names, emails, phones)
	if err != nil {
		return nil, fmt.Errorf("insert clients: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (importer.Client, error) {
		var c importer.Client
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
}
