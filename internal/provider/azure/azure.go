// Package azure starts and deallocates virtual machines and starts and stops App Service apps.
// Resource ids are full ARM ids; the subscription in the id selects the client.
//
// VM power changes are long-running operations. An action succeeds once Azure accepts
// the request, as with EC2; the transition itself is not awaited.
package azure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appservice/armappservice/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/crucial707/resource-scheduler/internal/provider"
)

const (
	vmType  = "Microsoft.Compute/virtualMachines"
	appType = "Microsoft.Web/sites"
)

// PowerClient starts and stops one kind of resource in one subscription.
type PowerClient interface {
	Start(ctx context.Context, resourceGroup, name string) error
	Stop(ctx context.Context, resourceGroup, name string) error
}

// ClientFactory returns power clients for a subscription.
type ClientFactory interface {
	VirtualMachines(subscriptionID string) (PowerClient, error)
	WebApps(subscriptionID string) (PowerClient, error)
}

// Adapter implements provider.Adapter for Azure.
type Adapter struct {
	Clients ClientFactory
}

// NewFromEnv authenticates with the default credential chain.
func NewFromEnv() (*Adapter, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	return &Adapter{Clients: NewSDKFactory(cred, nil)}, nil
}

// Register adds the VM and App Service actions.
func (a *Adapter) Register(r *provider.Registry) {
	r.Register(models.ProviderAzure, models.ResourceVM, models.ActionStart, a.action(vmType, a.Clients.VirtualMachines, true))
	r.Register(models.ProviderAzure, models.ResourceVM, models.ActionStop, a.action(vmType, a.Clients.VirtualMachines, false))
	r.Register(models.ProviderAzure, models.ResourceAppService, models.ActionStart, a.action(appType, a.Clients.WebApps, true))
	r.Register(models.ProviderAzure, models.ResourceAppService, models.ActionStop, a.action(appType, a.Clients.WebApps, false))
}

func (a *Adapter) action(wantType string, clients func(string) (PowerClient, error), start bool) provider.ActionFunc {
	return func(ctx context.Context, resourceID string) error {
		id, err := ParseID(resourceID, wantType)
		if err != nil {
			return err
		}
		c, err := clients(id.SubscriptionID)
		if err != nil {
			return err
		}
		if start {
			err = c.Start(ctx, id.ResourceGroupName, id.Name)
		} else {
			err = c.Stop(ctx, id.ResourceGroupName, id.Name)
		}
		return responseError(err)
	}
}

// ParseID parses an ARM resource id and checks its resource type.
func ParseID(resourceID, wantType string) (*arm.ResourceID, error) {
	id, err := arm.ParseResourceID(resourceID)
	if err != nil {
		return nil, fmt.Errorf("invalid azure resource id %q: %w", resourceID, err)
	}
	if !strings.EqualFold(id.ResourceType.String(), wantType) {
		return nil, fmt.Errorf("azure resource id %q is a %s, expected %s", resourceID, id.ResourceType.String(), wantType)
	}
	return id, nil
}

func responseError(err error) error {
	if err == nil {
		return nil
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		return fmt.Errorf("azure: %s (HTTP %d)", re.ErrorCode, re.StatusCode)
	}
	return err
}

// SDKFactory builds SDK clients lazily and caches them per subscription.
type SDKFactory struct {
	cred azcore.TokenCredential
	opts *arm.ClientOptions

	mu   sync.Mutex
	vms  map[string]*armcompute.VirtualMachinesClient
	apps map[string]*armappservice.WebAppsClient
}

// NewSDKFactory returns a factory authenticating with cred. opts may be nil.
func NewSDKFactory(cred azcore.TokenCredential, opts *arm.ClientOptions) *SDKFactory {
	return &SDKFactory{
		cred: cred,
		opts: opts,
		vms:  make(map[string]*armcompute.VirtualMachinesClient),
		apps: make(map[string]*armappservice.WebAppsClient),
	}
}

func (f *SDKFactory) VirtualMachines(subscriptionID string) (PowerClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.vms[subscriptionID]
	if !ok {
		var err error
		c, err = armcompute.NewVirtualMachinesClient(subscriptionID, f.cred, f.opts)
		if err != nil {
			return nil, err
		}
		f.vms[subscriptionID] = c
	}
	return vmClient{c}, nil
}

func (f *SDKFactory) WebApps(subscriptionID string) (PowerClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.apps[subscriptionID]
	if !ok {
		var err error
		c, err = armappservice.NewWebAppsClient(subscriptionID, f.cred, f.opts)
		if err != nil {
			return nil, err
		}
		f.apps[subscriptionID] = c
	}
	return webAppClient{c}, nil
}

type vmClient struct {
	c *armcompute.VirtualMachinesClient
}

func (v vmClient) Start(ctx context.Context, rg, name string) error {
	_, err := v.c.BeginStart(ctx, rg, name, nil)
	return err
}

// Stop deallocates so compute is no longer billed.
func (v vmClient) Stop(ctx context.Context, rg, name string) error {
	_, err := v.c.BeginDeallocate(ctx, rg, name, nil)
	return err
}

type webAppClient struct {
	c *armappservice.WebAppsClient
}

func (w webAppClient) Start(ctx context.Context, rg, name string) error {
	_, err := w.c.Start(ctx, rg, name, nil)
	return err
}

func (w webAppClient) Stop(ctx context.Context, rg, name string) error {
	_, err := w.c.Stop(ctx, rg, name, nil)
	return err
}
