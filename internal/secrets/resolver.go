package secrets

import (
	"context"

	"go.uber.org/zap"

	"github.com/lumenlabs/arcus-adapter/internal/arcus"
	pkgsecrets "github.com/lumenlabs/arcus-adapter/pkg/secrets"
)

// Resolver resolves the Arcus account credentials at startup, either from an
// AWS Secrets Manager secret (JSON map with email/password/api_key/key_id)
// or from the environment-supplied fallback. Resolved credentials are cached
// so a restart-loop does not hammer Secrets Manager.
type Resolver struct {
	logger   *zap.Logger
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[arcus.Credentials]
}

// NewResolver constructs a credentials resolver. provider may be nil when no
// secret name is configured.
func NewResolver(logger *zap.Logger, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[arcus.Credentials]) *Resolver {
	return &Resolver{
		logger:   logger,
		provider: provider,
		cache:    cache,
	}
}

// Resolve returns validated credentials. With an empty secretName the
// fallback (environment) credentials are used directly. Validation failures
// are configuration errors and fatal to startup.
func (r *Resolver) Resolve(ctx context.Context, secretName string, fallback arcus.Credentials) (arcus.Credentials, error) {
	if secretName == "" {
		if err := fallback.Validate(); err != nil {
			return arcus.Credentials{}, err
		}
		return fallback, nil
	}

	if cached, ok := r.cache.Get(secretName); ok {
		return cached, nil
	}

	m, err := r.provider.GetSecret(ctx, secretName)
	if err != nil {
		r.logger.Error("secrets.resolve_failed", zap.String("secret", secretName), zap.Error(err))
		return arcus.Credentials{}, err
	}

	creds := arcus.Credentials{
		Email:    m["email"],
		Password: m["password"],
		APIKey:   m["api_key"],
		KeyID:    m["key_id"],
	}
	if err := creds.Validate(); err != nil {
		return arcus.Credentials{}, err
	}

	r.cache.Put(secretName, creds)
	r.logger.Info("secrets.resolved", zap.String("secret", secretName), zap.String("email", creds.Email))
	return creds, nil
}
