package store

import (
	"context"
	"fmt"

	"github.com/pagegate/pagegate/internal/config"
)

// CredentialStore is implemented by every store driver.
type CredentialStore interface {
	GetCredential(ctx context.Context, resourceID string) (string, bool, error)
	PutCredentials(ctx context.Context, credentials map[string]string) error
	ListCredentials(ctx context.Context) (map[string]string, error)
	QueryCredentials(ctx context.Context, q CredentialQuery) (map[string]string, error)
	ForgetCredentials(ctx context.Context, q CredentialQuery) (int64, error)
	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ CredentialStore = (*Store)(nil)
	_ CredentialStore = (*FileStore)(nil)
	_ CredentialStore = (*RedisStore)(nil)
)

// OpenCredentialStore opens the driver selected by store.driver, migrating the
// schema where there is one.
func OpenCredentialStore(ctx context.Context, cfg *config.Config) (CredentialStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Store.Driver {
	case config.DriverFile:
		return NewFileStore(cfg.Credentials.TokensFile)
	case config.DriverRedis:
		return OpenRedis(ctx, cfg.Redis)
	case config.DriverLibsql, "":
		st, err := Open(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
