// Package azure provides an Azure Blob Storage cloud.Backend.
//
// A backend serves one container, optionally below a blob-name prefix.
// Public links are container URLs (with an optional SAS query and blob-name
// prefix) read without credentials.
package azure

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"path"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/rescale/cloudcmd/internal/cloud"
	"github.com/rescale/cloudcmd/internal/engine"
)

// Config selects the account and container.
type Config struct {
	// AccountURL is the service URL, usually carrying a SAS token.
	AccountURL string
	// ConnectionString takes precedence over AccountURL when set.
	ConnectionString string
	Container        string
	Prefix           string

	// HTTPClient is shared by every request so connections are pooled.
	HTTPClient *nethttp.Client
}

// Client wraps an Azure container client.
//
// Thread-safe: All operations are safe for concurrent use.
type Client struct {
	container  *container.Client
	location   string
	prefix     string
	httpClient *nethttp.Client
	readOnly   bool
}

func clientOptions(httpClient *nethttp.Client) azcore.ClientOptions {
	var opts azcore.ClientOptions
	if httpClient != nil {
		// Preserve the connection pool
		opts.Transport = httpClient
	}
	return opts
}

// NewClient creates a client for cfg.Container.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("container is required")
	}
	opts := &azblob.ClientOptions{ClientOptions: clientOptions(cfg.HTTPClient)}

	var (
		svc *azblob.Client
		err error
	)
	switch {
	case cfg.ConnectionString != "":
		svc, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, opts)
	case cfg.AccountURL != "":
		svc, err = azblob.NewClientWithNoCredential(cfg.AccountURL, opts)
	default:
		return nil, fmt.Errorf("account_url or connection_string is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	cc := svc.ServiceClient().NewContainerClient(cfg.Container)
	return &Client{
		container:  cc,
		location:   stripQuery(cc.URL()),
		prefix:     strings.Trim(cfg.Prefix, "/"),
		httpClient: cfg.HTTPClient,
	}, nil
}

func (c *Client) Location() string {
	if c.prefix == "" {
		return c.location
	}
	return c.location + "/" + c.prefix
}

// blobName maps an engine path to a blob name. The root maps to the prefix.
func (c *Client) blobName(p string) string {
	return strings.TrimPrefix(path.Join("/", c.prefix, engine.CleanPath(p)), "/")
}

func (c *Client) dirPrefix(p string) string {
	name := c.blobName(p)
	if name == "" {
		return ""
	}
	return name + "/"
}

func (c *Client) enginePath(name string) string {
	name = strings.TrimSuffix(name, "/")
	if c.prefix != "" {
		name = strings.TrimPrefix(strings.TrimPrefix(name, c.prefix), "/")
	}
	return engine.CleanPath(name)
}

func (c *Client) Stat(ctx context.Context, p string) (cloud.Object, error) {
	p = engine.CleanPath(p)
	if p == "/" {
		return cloud.Object{Path: "/", Dir: true}, nil
	}

	props, err := c.container.NewBlobClient(c.blobName(p)).GetProperties(ctx, nil)
	if err == nil {
		o := cloud.Object{Path: p, Size: deref(props.ContentLength)}
		if props.LastModified != nil {
			o.ModTime = *props.LastModified
		}
		return o, nil
	}
	if engine.CodeOf(classify(err)) != engine.ENoent {
		return cloud.Object{}, classify(err)
	}

	pager := c.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix:     to.Ptr(c.dirPrefix(p)),
		MaxResults: to.Ptr(int32(1)),
	})
	page, err := pager.NextPage(ctx)
	if err != nil {
		return cloud.Object{}, classify(err)
	}
	if len(page.Segment.BlobItems) == 0 {
		return cloud.Object{}, engine.NewError(engine.ENoent, 0)
	}
	return cloud.Object{Path: p, Dir: true}, nil
}

func (c *Client) object(item *container.BlobItem) cloud.Object {
	o := cloud.Object{Path: c.enginePath(deref(item.Name))}
	if item.Properties != nil {
		o.Size = deref(item.Properties.ContentLength)
		if item.Properties.LastModified != nil {
			o.ModTime = *item.Properties.LastModified
		}
	}
	return o
}

func (c *Client) List(ctx context.Context, p string, recursive bool) ([]cloud.Object, error) {
	prefix := c.dirPrefix(p)
	var out []cloud.Object

	if recursive {
		pager := c.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, classify(err)
			}
			for _, item := range page.Segment.BlobItems {
				if strings.HasSuffix(deref(item.Name), "/") {
					continue
				}
				out = append(out, c.object(item))
			}
		}
	} else {
		pager := c.container.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: to.Ptr(prefix)})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, classify(err)
			}
			for _, item := range page.Segment.BlobItems {
				if name := deref(item.Name); name == prefix || strings.HasSuffix(name, "/") {
					continue
				}
				out = append(out, c.object(item))
			}
			for _, dir := range page.Segment.BlobPrefixes {
				out = append(out, cloud.Object{Path: c.enginePath(deref(dir.Name)), Dir: true})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (c *Client) Get(ctx context.Context, p string, w io.Writer) (int64, error) {
	resp, err := c.container.NewBlobClient(c.blobName(p)).DownloadStream(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, classify(err)
	}
	return n, nil
}

func (c *Client) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	if c.readOnly {
		return engine.NewError(engine.EAccess, 0)
	}
	if _, err := c.container.NewBlockBlobClient(c.blobName(p)).UploadStream(ctx, r, nil); err != nil {
		return classify(err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, p string) error {
	if c.readOnly {
		return engine.NewError(engine.EAccess, 0)
	}
	if engine.CleanPath(p) == "/" {
		return engine.NewError(engine.EArgs, 0)
	}
	for _, name := range []string{c.blobName(p), c.dirPrefix(p)} {
		_, err := c.container.NewBlobClient(name).Delete(ctx, nil)
		if err != nil && engine.CodeOf(classify(err)) != engine.ENoent {
			return classify(err)
		}
	}
	return nil
}

func (c *Client) Anonymous() (cloud.LinkOpener, error) {
	return &opener{httpClient: c.httpClient}, nil
}

type opener struct {
	httpClient *nethttp.Client
}

// OpenLink opens https://account.blob.core.windows.net/container[/prefix][?sas].
func (o *opener) OpenLink(ctx context.Context, link string) (cloud.Backend, error) {
	containerURL, prefix, err := ParseLink(link)
	if err != nil {
		return nil, err
	}
	cc, err := container.NewClientWithNoCredential(containerURL, &container.ClientOptions{ClientOptions: clientOptions(o.httpClient)})
	if err != nil {
		return nil, engine.Wrap(engine.EArgs, err)
	}
	c := &Client{
		container:  cc,
		location:   stripQuery(containerURL),
		prefix:     prefix,
		httpClient: o.httpClient,
		readOnly:   true,
	}
	// Fail now rather than on first use when the link points nowhere.
	if prefix != "" {
		if objs, err := c.List(ctx, "/", false); err != nil {
			return nil, err
		} else if len(objs) == 0 {
			return nil, engine.NewError(engine.ENoent, 0)
		}
	}
	return c, nil
}

// ParseLink splits a container link into the container URL (keeping any SAS
// query) and the blob-name prefix.
func ParseLink(link string) (containerURL, prefix string, err error) {
	if !strings.HasPrefix(link, "https://") && !strings.HasPrefix(link, "http://") {
		return "", "", engine.NewError(engine.EArgs, 0)
	}
	parts, err := blob.ParseURL(link)
	if err != nil {
		return "", "", engine.Wrap(engine.EArgs, err)
	}
	if parts.ContainerName == "" {
		return "", "", engine.NewError(engine.EArgs, 0)
	}
	prefix = strings.Trim(parts.BlobName, "/")
	parts.BlobName = ""
	return parts.String(), prefix, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

var _ cloud.Backend = (*Client)(nil)
