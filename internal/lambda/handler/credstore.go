package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used to fetch the
// store token.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// tokenSecret is the JSON form of the store token secret:
//
//	{"token": "..."}
//
// A secret whose payload is not JSON is used as the token verbatim.
type tokenSecret struct {
	Token string `json:"token"`
}

// newSecretsClient creates a Secrets Manager client from the default AWS chain.
func newSecretsClient(ctx context.Context) (SecretsAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// loadStoreToken reads the bearer token for the remote store.
func loadStoreToken(ctx context.Context, sm SecretsAPI, secretID string) (string, error) {
	if secretID == "" {
		return "", nil
	}

	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret has no string payload")
	}

	raw := strings.TrimSpace(*out.SecretString)
	if strings.HasPrefix(raw, "{") {
		var ts tokenSecret
		if err := json.Unmarshal([]byte(raw), &ts); err != nil {
			return "", fmt.Errorf("parse secret json: %w", err)
		}
		if ts.Token == "" {
			return "", fmt.Errorf("secret has no token field")
		}
		return ts.Token, nil
	}

	if raw == "" {
		return "", fmt.Errorf("secret is empty")
	}
	return raw, nil
}
