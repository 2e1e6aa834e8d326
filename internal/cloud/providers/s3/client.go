// Package s3 provides an Amazon S3 (or S3-compatible) cloud.Backend.
//
// Objects live under an optional key prefix; folders are virtual and exist
// as long as some key starts with "<folder>/". Public links are
// s3://bucket[/prefix] URLs read with anonymous credentials.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rescale/cloudcmd/internal/cloud"
	"github.com/rescale/cloudcmd/internal/engine"
)

// LinkScheme prefixes public links understood by OpenLink.
const LinkScheme = "s3://"

const defaultRegion = "us-east-1"

// Config selects the bucket and credentials.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint points at an S3-compatible service; it enables path-style addressing.
	Endpoint string

	// Static credentials. Empty uses the default AWS credential chain.
	AccessKeyID     string
	SecretAccessKey string

	// HTTPClient is shared by every request so connections are pooled.
	HTTPClient *nethttp.Client
}

// Client wraps the AWS S3 client for one bucket and prefix.
//
// Thread-safe: All operations are safe for concurrent use.
type Client struct {
	client   *s3.Client
	cfg      Config
	readOnly bool
}

// NewClient creates a client with static or default-chain credentials.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	var creds aws.CredentialsProvider
	if cfg.AccessKeyID != "" {
		creds = awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	client, err := newS3Client(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}
	return &Client{client: client, cfg: cfg}, nil
}

func newS3Client(ctx context.Context, cfg Config, creds aws.CredentialsProvider) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.HTTPClient != nil {
		opts = append(opts, config.WithHTTPClient(cfg.HTTPClient))
	}
	if creds != nil {
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (c *Client) Location() string {
	return LinkScheme + path.Join(c.cfg.Bucket, c.cfg.Prefix)
}

// key maps an engine path to an object key. The root maps to the prefix.
func (c *Client) key(p string) string {
	return strings.TrimPrefix(path.Join("/", c.cfg.Prefix, engine.CleanPath(p)), "/")
}

// dirKey is the listing prefix of the folder at p.
func (c *Client) dirKey(p string) string {
	k := c.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

// enginePath maps an object key back to an engine path.
func (c *Client) enginePath(key string) string {
	base := strings.Trim(c.cfg.Prefix, "/")
	key = strings.TrimSuffix(key, "/")
	if base != "" {
		key = strings.TrimPrefix(strings.TrimPrefix(key, base), "/")
	}
	return engine.CleanPath(key)
}

func (c *Client) Stat(ctx context.Context, p string) (cloud.Object, error) {
	p = engine.CleanPath(p)
	if p == "/" {
		return cloud.Object{Path: "/", Dir: true}, nil
	}

	head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.key(p)),
	})
	if err == nil {
		o := cloud.Object{Path: p, Size: aws.ToInt64(head.ContentLength)}
		if head.LastModified != nil {
			o.ModTime = *head.LastModified
		}
		return o, nil
	}
	if engine.CodeOf(classify(err)) != engine.ENoent {
		return cloud.Object{}, classify(err)
	}

	// No object: it is a folder if anything lives below it.
	out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.cfg.Bucket),
		Prefix:  aws.String(c.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return cloud.Object{}, classify(err)
	}
	if aws.ToInt32(out.KeyCount) == 0 {
		return cloud.Object{}, engine.NewError(engine.ENoent, 0)
	}
	return cloud.Object{Path: p, Dir: true}, nil
}

func (c *Client) List(ctx context.Context, p string, recursive bool) ([]cloud.Object, error) {
	prefix := c.dirKey(p)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var out []cloud.Object
	pager := s3.NewListObjectsV2Paginator(c.client, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue // folder markers
			}
			o := cloud.Object{Path: c.enginePath(key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.ModTime = *obj.LastModified
			}
			out = append(out, o)
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, cloud.Object{Path: c.enginePath(aws.ToString(cp.Prefix)), Dir: true})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (c *Client) Get(ctx context.Context, p string, w io.Writer) (int64, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.key(p)),
	})
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
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.key(p)),
		Body:   r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := c.client.PutObject(ctx, input); err != nil {
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
	// Folder markers and plain objects are both single keys; S3 deletes are
	// idempotent so a folder without a marker is not an error.
	for _, key := range []string{c.key(p), c.dirKey(p)} {
		_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil && engine.CodeOf(classify(err)) != engine.ENoent {
			return classify(err)
		}
	}
	return nil
}

func (c *Client) Anonymous() (cloud.LinkOpener, error) {
	return &opener{cfg: c.cfg}, nil
}

type opener struct {
	cfg Config
}

// OpenLink opens s3://bucket[/prefix] without credentials.
func (o *opener) OpenLink(ctx context.Context, link string) (cloud.Backend, error) {
	bucket, prefix, err := ParseLink(link)
	if err != nil {
		return nil, err
	}
	cfg := Config{
		Bucket:     bucket,
		Prefix:     prefix,
		Region:     o.cfg.Region,
		Endpoint:   o.cfg.Endpoint,
		HTTPClient: o.cfg.HTTPClient,
	}
	client, err := newS3Client(ctx, cfg, aws.AnonymousCredentials{})
	if err != nil {
		return nil, err
	}
	c := &Client{client: client, cfg: cfg, readOnly: true}

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

// ParseLink splits s3://bucket/some/prefix into its bucket and prefix.
func ParseLink(link string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(link, LinkScheme)
	if !ok {
		return "", "", engine.Wrap(engine.EArgs, errors.New("not an s3 link"))
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", engine.Wrap(engine.EArgs, errors.New("s3 link has no bucket"))
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

var _ cloud.Backend = (*Client)(nil)
