// Package cloudformation runs stacks as AWS CloudFormation stacks.
package cloudformation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	cfn "github.com/aws/aws-sdk-go-v2/service/cloudformation"
	smithy "github.com/aws/smithy-go"

	"skald/api/model"
)

// API is the subset of the CloudFormation client the backend calls.
type API interface {
	DescribeStacks(ctx context.Context, in *cfn.DescribeStacksInput, optFns ...func(*cfn.Options)) (*cfn.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, in *cfn.CreateStackInput, optFns ...func(*cfn.Options)) (*cfn.CreateStackOutput, error)
	UpdateStack(ctx context.Context, in *cfn.UpdateStackInput, optFns ...func(*cfn.Options)) (*cfn.UpdateStackOutput, error)
	DescribeStackEvents(ctx context.Context, in *cfn.DescribeStackEventsInput, optFns ...func(*cfn.Options)) (*cfn.DescribeStackEventsOutput, error)
}

type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the service endpoint (localstack and friends).
	Endpoint string
}

// NewAPI builds a CloudFormation client. Static keys are used when set,
// otherwise the default AWS credential chain.
func NewAPI(ctx context.Context, c Config) (*cfn.Client, error) {
	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return cfn.NewFromConfig(cfg, func(o *cfn.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}

const noUpdatesMessage = "No updates are to be performed"

func isNoUpdates(err error) bool {
	return err != nil && strings.Contains(err.Error(), noUpdatesMessage)
}

// classify maps SDK errors onto the model error set.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
			return fmt.Errorf("%w: %v", model.ErrThrottled, err)
		case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation", "ExpiredToken":
			return fmt.Errorf("%w: %v", model.ErrForbidden, err)
		case "InternalFailure", "ServiceUnavailable", "InternalError":
			return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
		case "ValidationError":
			if strings.Contains(apiErr.ErrorMessage(), "does not exist") {
				return fmt.Errorf("%w: %v", model.ErrNotFound, err)
			}
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	return err
}
