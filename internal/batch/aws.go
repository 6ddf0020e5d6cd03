package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/aws/smithy-go"
)

const statusActive = "ACTIVE"

// BatchAPI is the subset of the AWS Batch client used by AWSBackend.
type BatchAPI interface {
	DescribeJobDefinitions(ctx context.Context, in *awsbatch.DescribeJobDefinitionsInput, optFns ...func(*awsbatch.Options)) (*awsbatch.DescribeJobDefinitionsOutput, error)
	RegisterJobDefinition(ctx context.Context, in *awsbatch.RegisterJobDefinitionInput, optFns ...func(*awsbatch.Options)) (*awsbatch.RegisterJobDefinitionOutput, error)
	DeregisterJobDefinition(ctx context.Context, in *awsbatch.DeregisterJobDefinitionInput, optFns ...func(*awsbatch.Options)) (*awsbatch.DeregisterJobDefinitionOutput, error)
	SubmitJob(ctx context.Context, in *awsbatch.SubmitJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.SubmitJobOutput, error)
}

// AWSBackend runs jobs on AWS Batch.
type AWSBackend struct {
	client BatchAPI
}

func NewAWSBackend(client BatchAPI) *AWSBackend {
	return &AWSBackend{client: client}
}

// NewAWSBackendFromConfig builds the Batch client from an SDK config.
func NewAWSBackendFromConfig(cfg aws.Config) *AWSBackend {
	return &AWSBackend{client: awsbatch.NewFromConfig(cfg)}
}

func (b *AWSBackend) DescribeDefinition(ctx context.Context, name string) (*Definition, error) {
	out, err := b.client.DescribeJobDefinitions(ctx, &awsbatch.DescribeJobDefinitionsInput{
		JobDefinitionName: aws.String(name),
		Status:            aws.String(statusActive),
	})
	if err != nil {
		return nil, mapAWSError(err)
	}
	if len(out.JobDefinitions) == 0 {
		return nil, ErrDefinitionNotFound
	}

	// Several revisions may be active; submit against the newest.
	defs := out.JobDefinitions
	sort.Slice(defs, func(i, j int) bool {
		return aws.ToInt32(defs[i].Revision) > aws.ToInt32(defs[j].Revision)
	})
	def := fromAWSDefinition(defs[0])
	return &def, nil
}

func (b *AWSBackend) RegisterDefinition(ctx context.Context, spec DefinitionSpec) (*Definition, error) {
	props := &types.ContainerProperties{
		Image:   aws.String(spec.Image),
		Command: []string{},
		ResourceRequirements: []types.ResourceRequirement{
			{Type: types.ResourceTypeVcpu, Value: aws.String(strconv.Itoa(int(spec.VCPUs)))},
			{Type: types.ResourceTypeMemory, Value: aws.String(strconv.Itoa(int(spec.MemoryMiB)))},
		},
	}
	if spec.JobRole != "" {
		props.JobRoleArn = aws.String(spec.JobRole)
	}
	for _, v := range spec.Volumes {
		props.Volumes = append(props.Volumes, types.Volume{
			Name: aws.String(v.Name),
			Host: &types.Host{SourcePath: aws.String(v.HostPath)},
		})
		props.MountPoints = append(props.MountPoints, types.MountPoint{
			ContainerPath: aws.String(v.ContainerPath),
			ReadOnly:      aws.Bool(v.ReadOnly),
			SourceVolume:  aws.String(v.Name),
		})
	}

	out, err := b.client.RegisterJobDefinition(ctx, &awsbatch.RegisterJobDefinitionInput{
		JobDefinitionName:   aws.String(spec.Name),
		Type:                types.JobDefinitionTypeContainer,
		Parameters:          map[string]string{},
		ContainerProperties: props,
		RetryStrategy:       &types.RetryStrategy{Attempts: aws.Int32(spec.RetryAttempts)},
	})
	if err != nil {
		return nil, mapAWSError(err)
	}

	return &Definition{
		Name:   aws.ToString(out.JobDefinitionName),
		Handle: aws.ToString(out.JobDefinitionArn),
		Image:  spec.Image,
	}, nil
}

func (b *AWSBackend) ListDefinitions(ctx context.Context) ([]Definition, error) {
	var defs []Definition
	p := awsbatch.NewDescribeJobDefinitionsPaginator(b.client, &awsbatch.DescribeJobDefinitionsInput{
		Status: aws.String(statusActive),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapAWSError(err)
		}
		for _, jd := range page.JobDefinitions {
			defs = append(defs, fromAWSDefinition(jd))
		}
	}
	return defs, nil
}

func (b *AWSBackend) DeregisterDefinition(ctx context.Context, def Definition) error {
	_, err := b.client.DeregisterJobDefinition(ctx, &awsbatch.DeregisterJobDefinitionInput{
		JobDefinition: aws.String(def.Handle),
	})
	return mapAWSError(err)
}

func (b *AWSBackend) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	env := make([]types.KeyValuePair, 0, len(req.Env))
	for _, k := range sortedKeys(req.Env) {
		env = append(env, types.KeyValuePair{Name: aws.String(k), Value: aws.String(req.Env[k])})
	}

	out, err := b.client.SubmitJob(ctx, &awsbatch.SubmitJobInput{
		JobName:       aws.String(req.Name),
		JobQueue:      aws.String(req.Queue),
		JobDefinition: aws.String(req.Definition.Handle),
		ContainerOverrides: &types.ContainerOverrides{
			Command:     req.Command,
			Environment: env,
		},
	})
	if err != nil {
		return "", mapAWSError(err)
	}
	return aws.ToString(out.JobId), nil
}

func fromAWSDefinition(jd types.JobDefinition) Definition {
	def := Definition{
		Name:   aws.ToString(jd.JobDefinitionName),
		Handle: aws.ToString(jd.JobDefinitionArn),
	}
	if jd.ContainerProperties != nil {
		def.Image = aws.ToString(jd.ContainerProperties.Image)
	}
	return def
}

// mapAWSError marks throttling responses with ErrThrottled.
func mapAWSError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return fmt.Errorf("%w: %v", ErrThrottled, err)
		}
	}
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
