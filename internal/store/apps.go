// ABOUTME: Application-scoped identity store methods
// ABOUTME: API-key lookups against app_users or any table described by an AppSchema

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAppIdentity issues an application identity.
func (s *SQLiteStore) CreateAppIdentity(ctx context.Context, a *AppIdentity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Role == "" {
		a.Role = "user"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO app_users (id, app_name, username, role, api_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.AppName,
		a.Username,
		a.Role,
		a.APIKey,
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAPIKeyExists
		}
		return fmt.Errorf("inserting app identity: %w", err)
	}

	s.logger.Info("created app identity", "id", a.ID, "app", a.AppName, "username", a.Username)
	return nil
}

// LookupAppIdentity resolves apiKey to an identity in the table described by
// schema. When schema has an AppField the row must belong to appName.
func (s *SQLiteStore) LookupAppIdentity(ctx context.Context, schema AppSchema, appName, apiKey string) (*AppIdentity, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	// identifiers are validated above; values are always bound
	query := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s = ?`,
		schema.IDField, schema.UsernameField, schema.RoleField, schema.Table, schema.TokenField)
	args := []any{apiKey}
	if schema.AppField != "" {
		query += fmt.Sprintf(` AND %s = ?`, schema.AppField)
		args = append(args, appName)
	}
	query += ` LIMIT 1`

	var a AppIdentity
	var role sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.Username, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying app identity: %w", err)
	}

	a.AppName = appName
	a.Role = role.String
	a.APIKey = apiKey
	return &a, nil
}

// ListAppIdentities returns the identities of one application, or of all
// applications when appName is empty.
func (s *SQLiteStore) ListAppIdentities(ctx context.Context, appName string) ([]*AppIdentity, error) {
	query := `
		SELECT id, app_name, username, role, api_key, created_at
		FROM app_users
		WHERE (? = '' OR app_name = ?)
		ORDER BY app_name ASC, username ASC
	`

	rows, err := s.db.QueryContext(ctx, query, appName, appName)
	if err != nil {
		return nil, fmt.Errorf("querying app identities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*AppIdentity
	for rows.Next() {
		var a AppIdentity
		var createdAtStr string
		if err := rows.Scan(&a.ID, &a.AppName, &a.Username, &a.Role, &a.APIKey, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning app identity: %w", err)
		}
		a.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating app identities: %w", err)
	}
	return out, nil
}

// DeleteAppIdentity removes an application identity by ID.
func (s *SQLiteStore) DeleteAppIdentity(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting app identity: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	s.logger.Info("deleted app identity", "id", id)
	return nil
}
