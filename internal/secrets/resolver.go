// Package secrets resolves credentials that may be supplied directly, through
// Secrets Manager, or through SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNotConfigured is returned when none of the sources for a secret are set.
var ErrNotConfigured = errors.New("secret not configured")

// SecretsManagerClient defines the Secrets Manager operations used here
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SSMClient defines the SSM operations used here
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver looks a secret up by environment variable name. For a variable
// NAME it checks NAME, then NAME_SECRET_ARN, then NAME_PARAMETER.
type Resolver struct {
	sm     SecretsManagerClient
	ssm    SSMClient
	getenv func(string) string
}

// NewResolver creates a Resolver. Either client may be nil when the
// corresponding source is not used.
func NewResolver(sm SecretsManagerClient, ssmClient SSMClient) *Resolver {
	return &Resolver{sm: sm, ssm: ssmClient, getenv: os.Getenv}
}

// Resolve returns the secret configured under name.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if value := strings.TrimSpace(r.getenv(name)); value != "" {
		return value, nil
	}

	if arn := strings.TrimSpace(r.getenv(name + "_SECRET_ARN")); arn != "" {
		return r.fromSecretsManager(ctx, arn)
	}

	if param := strings.TrimSpace(r.getenv(name + "_PARAMETER")); param != "" {
		return r.fromParameterStore(ctx, param)
	}

	return "", fmt.Errorf("%s: %w", name, ErrNotConfigured)
}

// Optional behaves like Resolve but treats an unconfigured secret as empty.
func (r *Resolver) Optional(ctx context.Context, name string) (string, error) {
	value, err := r.Resolve(ctx, name)
	if errors.Is(err, ErrNotConfigured) {
		return "", nil
	}
	return value, err
}

func (r *Resolver) fromSecretsManager(ctx context.Context, arn string) (string, error) {
	if r.sm == nil {
		return "", fmt.Errorf("secrets manager client not configured for %s", arn)
	}

	result, err := r.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read secret %s: %w", arn, err)
	}

	if result.SecretString == nil || *result.SecretString == "" {
		return "", fmt.Errorf("secret value is empty")
	}

	return *result.SecretString, nil
}

func (r *Resolver) fromParameterStore(ctx context.Context, name string) (string, error) {
	if r.ssm == nil {
		return "", fmt.Errorf("ssm client not configured for %s", name)
	}

	result, err := r.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter value is empty")
	}

	return *result.Parameter.Value, nil
}
