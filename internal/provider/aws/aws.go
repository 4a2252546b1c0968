// Package aws starts and stops EC2 instances and RDS database instances.
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/smithy-go"
	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/crucial707/resource-scheduler/internal/provider"
)

// EC2API is the subset of the EC2 client the adapter calls.
type EC2API interface {
	StartInstances(ctx context.Context, in *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, in *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
}

// RDSAPI is the subset of the RDS client the adapter calls.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	StartDBInstance(ctx context.Context, in *rds.StartDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StartDBInstanceOutput, error)
	StopDBInstance(ctx context.Context, in *rds.StopDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StopDBInstanceOutput, error)
}

// Adapter implements provider.Adapter for AWS.
type Adapter struct {
	EC2 EC2API
	RDS RDSAPI
}

// New builds an adapter from an SDK config.
func New(cfg aws.Config) *Adapter {
	return &Adapter{EC2: ec2.NewFromConfig(cfg), RDS: rds.NewFromConfig(cfg)}
}

// NewFromEnv loads the default credential chain for region.
func NewFromEnv(ctx context.Context, region string) (*Adapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(cfg), nil
}

// Register adds the EC2 and RDS actions.
func (a *Adapter) Register(r *provider.Registry) {
	r.Register(models.ProviderAWS, models.ResourceEC2, models.ActionStart, a.startInstance)
	r.Register(models.ProviderAWS, models.ResourceEC2, models.ActionStop, a.stopInstance)
	r.Register(models.ProviderAWS, models.ResourceRDS, models.ActionStart, a.startDB)
	r.Register(models.ProviderAWS, models.ResourceRDS, models.ActionStop, a.stopDB)
}

// EC2 start/stop are idempotent on the API side; no probe is needed.
func (a *Adapter) startInstance(ctx context.Context, id string) error {
	_, err := a.EC2.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id}})
	return apiError("ec2 start", err)
}

func (a *Adapter) stopInstance(ctx context.Context, id string) error {
	_, err := a.EC2.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id}})
	return apiError("ec2 stop", err)
}

func (a *Adapter) startDB(ctx context.Context, id string) error {
	status, err := a.dbStatus(ctx, id)
	if err != nil {
		return err
	}
	if status == "available" || status == "starting" {
		return provider.ErrAlreadyInTargetState
	}
	_, err = a.RDS.StartDBInstance(ctx, &rds.StartDBInstanceInput{DBInstanceIdentifier: aws.String(id)})
	return apiError("rds start", err)
}

func (a *Adapter) stopDB(ctx context.Context, id string) error {
	status, err := a.dbStatus(ctx, id)
	if err != nil {
		return err
	}
	if status == "stopped" || status == "stopping" {
		return provider.ErrAlreadyInTargetState
	}
	_, err = a.RDS.StopDBInstance(ctx, &rds.StopDBInstanceInput{DBInstanceIdentifier: aws.String(id)})
	return apiError("rds stop", err)
}

func (a *Adapter) dbStatus(ctx context.Context, id string) (string, error) {
	out, err := a.RDS.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: aws.String(id)})
	if err != nil {
		return "", apiError("rds describe", err)
	}
	if len(out.DBInstances) == 0 {
		return "", fmt.Errorf("rds describe: db instance %q not found", id)
	}
	return aws.ToString(out.DBInstances[0].DBInstanceStatus), nil
}

// apiError flattens SDK errors to "op: Code: message" so the run history stays readable.
func apiError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("%s: %s: %s", op, ae.ErrorCode(), ae.ErrorMessage())
	}
	return fmt.Errorf("%s: %w", op, err)
}
