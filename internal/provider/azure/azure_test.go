package azure

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	azfake "github.com/Azure/azure-sdk-for-go/sdk/azcore/fake"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5/fake"
	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/crucial707/resource-scheduler/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	vmID  = "/subscriptions/00000000-0000-0000-0000-000000000001/resourceGroups/rg-web/providers/Microsoft.Compute/virtualMachines/web-1"
	appID = "/subscriptions/00000000-0000-0000-0000-000000000002/resourceGroups/rg-app/providers/Microsoft.Web/sites/portal"
)

type fakePower struct {
	calls []string
	err   error
}

func (f *fakePower) Start(_ context.Context, rg, name string) error {
	f.calls = append(f.calls, "start "+rg+"/"+name)
	return f.err
}

func (f *fakePower) Stop(_ context.Context, rg, name string) error {
	f.calls = append(f.calls, "stop "+rg+"/"+name)
	return f.err
}

type fakeFactory struct {
	vms, apps map[string]*fakePower
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{vms: map[string]*fakePower{}, apps: map[string]*fakePower{}}
}

func (f *fakeFactory) get(m map[string]*fakePower, sub string) *fakePower {
	if m[sub] == nil {
		m[sub] = &fakePower{}
	}
	return m[sub]
}

func (f *fakeFactory) VirtualMachines(sub string) (PowerClient, error) { return f.get(f.vms, sub), nil }
func (f *fakeFactory) WebApps(sub string) (PowerClient, error)         { return f.get(f.apps, sub), nil }

func TestAdapter_DispatchesBySubscription(t *testing.T) {
	ff := newFakeFactory()
	r := provider.NewRegistry(100, 10).Use(&Adapter{Clients: ff})
	ctx := context.Background()

	require.NoError(t, r.Execute(ctx, provider.Target{Provider: models.ProviderAzure, ResourceType: models.ResourceVM, ResourceID: vmID}, models.ActionStop))
	require.NoError(t, r.Execute(ctx, provider.Target{Provider: models.ProviderAzure, ResourceType: models.ResourceAppService, ResourceID: appID}, models.ActionStart))

	assert.Equal(t, []string{"stop rg-web/web-1"}, ff.vms["00000000-0000-0000-0000-000000000001"].calls)
	assert.Equal(t, []string{"start rg-app/portal"}, ff.apps["00000000-0000-0000-0000-000000000002"].calls)
}

func TestAdapter_RejectsMismatchedResourceType(t *testing.T) {
	r := provider.NewRegistry(100, 10).Use(&Adapter{Clients: newFakeFactory()})

	err := r.Execute(context.Background(), provider.Target{Provider: models.ProviderAzure, ResourceType: models.ResourceVM, ResourceID: appID}, models.ActionStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected Microsoft.Compute/virtualMachines")
}

func TestAdapter_RejectsMalformedID(t *testing.T) {
	r := provider.NewRegistry(100, 10).Use(&Adapter{Clients: newFakeFactory()})

	err := r.Execute(context.Background(), provider.Target{Provider: models.ProviderAzure, ResourceType: models.ResourceVM, ResourceID: "web-1"}, models.ActionStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid azure resource id")
}

func TestAdapter_ResponseErrorText(t *testing.T) {
	ff := newFakeFactory()
	ff.get(ff.vms, "00000000-0000-0000-0000-000000000001").err = &azcore.ResponseError{ErrorCode: "AuthorizationFailed", StatusCode: 403}
	r := provider.NewRegistry(100, 10).Use(&Adapter{Clients: ff})

	err := r.Execute(context.Background(), provider.Target{Provider: models.ProviderAzure, ResourceType: models.ResourceVM, ResourceID: vmID}, models.ActionStart)
	require.Error(t, err)
	assert.Equal(t, "azure: AuthorizationFailed (HTTP 403)", err.Error())
}

func TestResponseError_PassesThroughOtherErrors(t *testing.T) {
	assert.Nil(t, responseError(nil))
	assert.True(t, errors.Is(responseError(context.Canceled), context.Canceled))
}

func sdkAdapter(srv *fake.VirtualMachinesServer) *Adapter {
	opts := &arm.ClientOptions{ClientOptions: azcore.ClientOptions{Transport: fake.NewVirtualMachinesServerTransport(srv)}}
	return &Adapter{Clients: NewSDKFactory(&azfake.TokenCredential{}, opts)}
}

func TestSDK_DeallocateReturnsOnceAccepted(t *testing.T) {
	var calls atomic.Int32
	srv := &fake.VirtualMachinesServer{
		BeginDeallocate: func(_ context.Context, rg, name string, _ *armcompute.VirtualMachinesClientBeginDeallocateOptions) (resp azfake.PollerResponder[armcompute.VirtualMachinesClientDeallocateResponse], errResp azfake.ErrorResponder) {
			calls.Add(1)
			assert.Equal(t, "rg-web", rg)
			assert.Equal(t, "web-1", name)
			resp.AddNonTerminalResponse(http.StatusAccepted, nil)
			// Completion is never polled, so its outcome does not reach the caller.
			resp.SetTerminalError(http.StatusInternalServerError, "InternalExecutionError")
			return
		},
	}
	r := provider.NewRegistry(100, 10).Use(sdkAdapter(srv))

	err := r.Execute(context.Background(), provider.Target{Provider: models.ProviderAzure, ResourceType: models.ResourceVM, ResourceID: vmID}, models.ActionStop)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSDK_StartRejectedIsReported(t *testing.T) {
	srv := &fake.VirtualMachinesServer{
		BeginStart: func(context.Context, string, string, *armcompute.VirtualMachinesClientBeginStartOptions) (resp azfake.PollerResponder[armcompute.VirtualMachinesClientStartResponse], errResp azfake.ErrorResponder) {
			errResp.SetResponseError(http.StatusConflict, "OperationNotAllowed")
			return
		},
	}
	r := provider.NewRegistry(100, 10).Use(sdkAdapter(srv))

	err := r.Execute(context.Background(), provider.Target{Provider: models.ProviderAzure, ResourceType: models.ResourceVM, ResourceID: vmID}, models.ActionStart)
	require.Error(t, err)
	assert.Equal(t, "azure: OperationNotAllowed (HTTP 409)", err.Error())
}
