package amazon

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/config"
)

// Config holds what every AWS client in this package needs
type Config struct {
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint overrides the service endpoint (localstack, minio)
	Endpoint string
}

// ConfigFromEnv maps the environment to a Config
func ConfigFromEnv(env *config.EnviornmentVariable) Config {
	return Config{
		Region:    env.AWS_REGION,
		AccessKey: env.AWS_ACCESS_KEY_ID,
		SecretKey: env.AWS_SECRET_ACCESS_KEY,
		Endpoint:  env.AWS_ENDPOINT,
	}
}

// NewSession creates the shared AWS session. Static credentials are used
// when both keys are set, otherwise the default provider chain applies.
func NewSession(cfg Config) (*session.Session, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return sess, nil
}
