// Package providers contains the cloud storage provider implementations
// and the factory selecting one from the daemon configuration.
package providers

import (
	"context"
	"fmt"

	"github.com/rescale/cloudcmd/internal/cloud"
	"github.com/rescale/cloudcmd/internal/cloud/providers/azure"
	"github.com/rescale/cloudcmd/internal/cloud/providers/local"
	"github.com/rescale/cloudcmd/internal/cloud/providers/s3"
	"github.com/rescale/cloudcmd/internal/config"
	"github.com/rescale/cloudcmd/internal/http"
)

// Provider names accepted in [storage] provider.
const (
	ProviderS3    = "s3"
	ProviderAzure = "azure"
	ProviderLocal = "local"
)

// New creates the backend selected by cfg. Remote providers share one
// proxy-aware HTTP client built from proxy.
func New(ctx context.Context, cfg config.StorageConfig, proxy config.ProxyConfig) (cloud.Backend, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		root := cfg.Root
		if root == "" {
			root = config.DefaultLocalRoot()
		}
		return local.New(root)

	case ProviderS3:
		httpClient, err := http.CreateTransferClient(proxy)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		return s3.NewClient(ctx, s3.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			HTTPClient:      httpClient,
		})

	case ProviderAzure:
		httpClient, err := http.CreateTransferClient(proxy)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		return azure.NewClient(azure.Config{
			AccountURL:       cfg.AccountURL,
			ConnectionString: cfg.ConnectionString,
			Container:        cfg.Container,
			HTTPClient:       httpClient,
		})

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}
