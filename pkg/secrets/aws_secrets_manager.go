// Package secrets resolves credentials that should not live in config files.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrNotFound is returned when a secret has no value.
var ErrNotFound = errors.New("secret not found")

type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// AWSSecretsManagerProvider implements Provider using AWS Secrets Manager.
// Secret ids are prefix + key.
type AWSSecretsManagerProvider struct {
	client   SecretsManagerAPI
	prefix   string
	cache    map[string]cachedSecret
	cacheMu  sync.RWMutex
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAWSSecretsManagerProvider creates a new AWS Secrets Manager provider
func NewAWSSecretsManagerProvider(ctx context.Context, region, prefix string, cacheTTL time.Duration) (*AWSSecretsManagerProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSSecretsManagerProviderWithClient(secretsmanager.NewFromConfig(cfg), prefix, cacheTTL), nil
}

func NewAWSSecretsManagerProviderWithClient(client SecretsManagerAPI, prefix string, cacheTTL time.Duration) *AWSSecretsManagerProvider {
	return &AWSSecretsManagerProvider{
		client:   client,
		prefix:   prefix,
		cache:    make(map[string]cachedSecret),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

func (p *AWSSecretsManagerProvider) GetSecret(ctx context.Context, key string) (string, error) {
	// Check cache first
	p.cacheMu.RLock()
	if cached, ok := p.cache[key]; ok && p.now().Before(cached.expiresAt) {
		p.cacheMu.RUnlock()
		return cached.value, nil
	}
	p.cacheMu.RUnlock()

	result, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.prefix + key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}

	value := aws.ToString(result.SecretString)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	p.cacheMu.Lock()
	p.cache[key] = cachedSecret{
		value:     value,
		expiresAt: p.now().Add(p.cacheTTL),
	}
	p.cacheMu.Unlock()

	return value, nil
}

// ClearCache clears the secret cache
func (p *AWSSecretsManagerProvider) ClearCache() {
	p.cacheMu.Lock()
	p.cache = make(map[string]cachedSecret)
	p.cacheMu.Unlock()
}
