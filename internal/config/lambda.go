package config

import (
	"os"
)

// LambdaConfig contains Lambda-specific settings.
type LambdaConfig struct {
	TokenSecretName string `json:"token_secret_name"`
	RunsTable       string `json:"runs_table,omitempty"` // DynamoDB table recording export runs (optional)
}

// ApplyLambdaDefaults adjusts cfg for the Lambda environment: DynamoDB reads,
// S3 delivery and JSON logs for CloudWatch. Explicit FINSYNC_ settings win.
func ApplyLambdaDefaults(cfg *Config) *LambdaConfig {
	if os.Getenv(EnvPrefix+"_STORE_DRIVER") == "" {
		cfg.Store.Driver = DriverDynamoDB
	}
	if os.Getenv(EnvPrefix+"_EXPORT_SINK") == "" {
		cfg.Export.Sink = SinkS3
	}
	if os.Getenv(EnvPrefix+"_LOG_FORMAT") == "" {
		cfg.Log.Format = "json"
	}

	if v := os.Getenv("STORE_TABLE_NAME"); v != "" {
		cfg.Store.DynamoTable = v
	}
	if cfg.Store.DynamoTable == "" {
		cfg.Store.DynamoTable = "finsync-documents"
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Export.S3Bucket = v
	}
	if v := os.Getenv("S3_PREFIX"); v != "" {
		cfg.Export.S3Prefix = v
	}

	return &LambdaConfig{
		TokenSecretName: os.Getenv("STORE_TOKEN_SECRET"),
		RunsTable:       os.Getenv("EXPORT_RUNS_TABLE"),
	}
}

// IsLambdaEnvironment checks if running in Lambda
func IsLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
