package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSecretsManager struct {
	mock.Mock
}

func (m *mockSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, aws.ToString(params.SecretId))
	out, _ := args.Get(0).(*secretsmanager.GetSecretValueOutput)
	return out, args.Error(1)
}

func TestGetSecret_CachesUntilExpiry(t *testing.T) {
	client := new(mockSecretsManager)
	client.On("GetSecretValue", mock.Anything, "rail_bridge/jwt_secret").
		Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String("s3cret")}, nil).Twice()

	p := NewAWSSecretsManagerProviderWithClient(client, "rail_bridge/", time.Minute)
	now := time.Now()
	p.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v, err := p.GetSecret(context.Background(), "jwt_secret")
		require.NoError(t, err)
		assert.Equal(t, "s3cret", v)
	}
	client.AssertNumberOfCalls(t, "GetSecretValue", 1)

	now = now.Add(2 * time.Minute)
	_, err := p.GetSecret(context.Background(), "jwt_secret")
	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "GetSecretValue", 2)
}

func TestGetSecret_Errors(t *testing.T) {
	client := new(mockSecretsManager)
	client.On("GetSecretValue", mock.Anything, "empty").
		Return(&secretsmanager.GetSecretValueOutput{}, nil)
	client.On("GetSecretValue", mock.Anything, "denied").
		Return(nil, errors.New("access denied"))

	p := NewAWSSecretsManagerProviderWithClient(client, "", time.Minute)

	_, err := p.GetSecret(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = p.GetSecret(context.Background(), "denied")
	assert.ErrorContains(t, err, "access denied")
}
