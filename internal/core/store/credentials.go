package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetCredential returns the stored credential for a resource.
func (s *Store) GetCredential(ctx context.Context, resourceID string) (string, bool, error) {
	if s == nil || s.DB == nil {
		return "", false, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return "", false, errors.New("resource id is required")
	}

	var credential string
	row := s.DB.QueryRowContext(ctx, `
		SELECT credential
		FROM credentials
		WHERE resource_id = ?
	`, resourceID)
	if err := row.Scan(&credential); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetch credential: %w", err)
	}

	return credential, credential != "", nil
}

// PutCredentials upserts every entry in one transaction.
func (s *Store) PutCredentials(ctx context.Context, credentials map[string]string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if len(credentials) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin credential write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Unix()
	for id, credential := range credentials {
		id = strings.TrimSpace(id)
		if id == "" || credential == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO credentials (resource_id, credential, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(resource_id) DO UPDATE SET
				credential = excluded.credential,
				updated_at = excluded.updated_at
		`, id, credential, now); err != nil {
			return fmt.Errorf("store credential: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential write: %w", err)
	}
	return nil
}

// ListCredentials returns every stored credential keyed by resource id.
func (s *Store) ListCredentials(ctx context.Context) (map[string]string, error) {
	return s.QueryCredentials(ctx, CredentialQuery{All: true})
}

// QueryCredentials returns the credentials selected by q.
func (s *Store) QueryCredentials(ctx context.Context, q CredentialQuery) (map[string]string, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT resource_id, credential
		FROM credentials
		%s
		ORDER BY resource_id
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	out := make(map[string]string)
	for rows.Next() {
		var id, credential string
		if err := rows.Scan(&id, &credential); err != nil {
			return nil, fmt.Errorf("scan credentials: %w", err)
		}
		out[id] = credential
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return out, nil
}

// ForgetCredentials deletes the credentials selected by q.
func (s *Store) ForgetCredentials(ctx context.Context, q CredentialQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM credentials
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("forget credentials: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("forget credentials: %w", err)
	}
	return affected, nil
}
