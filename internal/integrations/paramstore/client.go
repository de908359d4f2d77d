// Package paramstore reads deployment settings, such as the backend
// address, from AWS Systems Manager Parameter Store.
package paramstore

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/pkg/errors"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ErrMissingValue marks a parameter that exists but carries no value.
var ErrMissingValue = errors.New("paramstore: parameter missing value")

type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter returns the decrypted value of name. A missing parameter is
// an error.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	v, ok, err := c.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Errorf("paramstore: parameter %q not found", strings.TrimSpace(name))
	}
	return v, nil
}

// Lookup returns the decrypted, trimmed value of name. ok is false when the
// parameter does not exist.
func (c *Client) Lookup(ctx context.Context, name string) (string, bool, error) {
	if c == nil || c.api == nil {
		return "", false, errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "paramstore: get parameter %q", name)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", false, errors.Wrapf(ErrMissingValue, "%q", name)
	}
	return strings.TrimSpace(*out.Parameter.Value), true, nil
}
