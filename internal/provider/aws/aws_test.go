package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"
	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/crucial707/resource-scheduler/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	started, stopped []string
	err              error
}

func (f *fakeEC2) StartInstances(_ context.Context, in *ec2.StartInstancesInput, _ ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	f.started = append(f.started, in.InstanceIds...)
	return &ec2.StartInstancesOutput{}, f.err
}

func (f *fakeEC2) StopInstances(_ context.Context, in *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.stopped = append(f.stopped, in.InstanceIds...)
	return &ec2.StopInstancesOutput{}, f.err
}

type fakeRDS struct {
	status           string
	started, stopped int
}

func (f *fakeRDS) DescribeDBInstances(_ context.Context, in *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	if f.status == "" {
		return nil, &smithy.GenericAPIError{Code: "DBInstanceNotFound", Message: "DBInstance " + aws.ToString(in.DBInstanceIdentifier) + " not found."}
	}
	return &rds.DescribeDBInstancesOutput{DBInstances: []rdstypes.DBInstance{{DBInstanceStatus: aws.String(f.status)}}}, nil
}

func (f *fakeRDS) StartDBInstance(context.Context, *rds.StartDBInstanceInput, ...func(*rds.Options)) (*rds.StartDBInstanceOutput, error) {
	f.started++
	return &rds.StartDBInstanceOutput{}, nil
}

func (f *fakeRDS) StopDBInstance(context.Context, *rds.StopDBInstanceInput, ...func(*rds.Options)) (*rds.StopDBInstanceOutput, error) {
	f.stopped++
	return &rds.StopDBInstanceOutput{}, nil
}

func newRegistry(a *Adapter) *provider.Registry {
	return provider.NewRegistry(100, 10).Use(a)
}

func TestAdapter_EC2(t *testing.T) {
	e := &fakeEC2{}
	r := newRegistry(&Adapter{EC2: e, RDS: &fakeRDS{}})
	ctx := context.Background()

	require.NoError(t, r.Execute(ctx, provider.Target{Provider: models.ProviderAWS, ResourceType: models.ResourceEC2, ResourceID: "i-0abc"}, models.ActionStart))
	require.NoError(t, r.Execute(ctx, provider.Target{Provider: models.ProviderAWS, ResourceType: models.ResourceEC2, ResourceID: "i-0def"}, models.ActionStop))

	assert.Equal(t, []string{"i-0abc"}, e.started)
	assert.Equal(t, []string{"i-0def"}, e.stopped)
	assert.True(t, r.Supports(models.ProviderAWS, models.ResourceRDS))
}

func TestAdapter_EC2_APIErrorText(t *testing.T) {
	e := &fakeEC2{err: &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "You are not authorized to perform this operation."}}
	r := newRegistry(&Adapter{EC2: e, RDS: &fakeRDS{}})

	err := r.Execute(context.Background(), provider.Target{Provider: models.ProviderAWS, ResourceType: models.ResourceEC2, ResourceID: "i-0abc"}, models.ActionStop)
	require.Error(t, err)
	assert.Equal(t, "ec2 stop: UnauthorizedOperation: You are not authorized to perform this operation.", err.Error())
}

func TestAdapter_RDS(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		action      models.Action
		wantStarted int
		wantStopped int
	}{
		{"start stopped db", "stopped", models.ActionStart, 1, 0},
		{"start available db is a no-op", "available", models.ActionStart, 0, 0},
		{"stop available db", "available", models.ActionStop, 0, 1},
		{"stop stopping db is a no-op", "stopping", models.ActionStop, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRDS{status: tt.status}
			r := newRegistry(&Adapter{EC2: &fakeEC2{}, RDS: f})

			err := r.Execute(context.Background(), provider.Target{Provider: models.ProviderAWS, ResourceType: models.ResourceRDS, ResourceID: "db-1"}, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStarted, f.started)
			assert.Equal(t, tt.wantStopped, f.stopped)
		})
	}
}

func TestAdapter_RDS_Missing(t *testing.T) {
	r := newRegistry(&Adapter{EC2: &fakeEC2{}, RDS: &fakeRDS{}})

	err := r.Execute(context.Background(), provider.Target{Provider: models.ProviderAWS, ResourceType: models.ResourceRDS, ResourceID: "db-x"}, models.ActionStop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DBInstanceNotFound")
}

func TestAPIError_WrapsNonAPIErrors(t *testing.T) {
	base := context.DeadlineExceeded
	err := apiError("ec2 start", base)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Nil(t, apiError("ec2 start", nil))
}
