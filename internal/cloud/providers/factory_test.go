package providers

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rescale/cloudcmd/internal/config"
)

func TestNewLocal(t *testing.T) {
	root := t.TempDir()
	b, err := New(context.Background(), config.StorageConfig{Provider: ProviderLocal, Root: root}, config.ProxyConfig{Mode: "no-proxy"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !strings.HasSuffix(b.Location(), filepath.ToSlash(root)) {
		t.Errorf("Location() = %q, want it to name %q", b.Location(), root)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Provider: "ftp"}, config.ProxyConfig{})
	if err == nil {
		t.Fatal("New() accepted an unknown provider")
	}
}

func TestNewAzureRequiresContainer(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Provider: ProviderAzure, AccountURL: "https://acct.blob.core.windows.net/"}, config.ProxyConfig{Mode: "no-proxy"})
	if err == nil {
		t.Fatal("New() accepted azure without a container")
	}
}
