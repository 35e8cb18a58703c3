package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the minimal AWS SSM interface required by SSMProvider.
// *ssm.Client satisfies it.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMProvider reads secrets from AWS Systems Manager Parameter Store. The
// secret "api-key" with prefix "/relay/" is read from parameter
// "/relay/api-key".
type SSMProvider struct {
	api    ssmAPI
	prefix string
}

// NewSSMProvider wraps api.
func NewSSMProvider(api ssmAPI, prefix string) (*SSMProvider, error) {
	if api == nil {
		return nil, errors.New("secrets: ssm api must not be nil")
	}
	return &SSMProvider{api: api, prefix: prefix}, nil
}

// GetSecret implements Provider.
func (p *SSMProvider) GetSecret(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: parameter name is required")
	}
	param := p.prefix + name

	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: parameter %s", ErrNotFound, param)
		}
		return "", fmt.Errorf("secrets: get parameter %q: %w", param, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q has no value", param)
	}
	return *out.Parameter.Value, nil
}

// Name implements Provider.
func (p *SSMProvider) Name() string {
	return "ssm"
}
