package s3

import (
	"errors"
	nethttp "net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/rescale/cloudcmd/internal/engine"
)

func responseError(status int, header nethttp.Header, err error) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &nethttp.Response{StatusCode: status, Header: header}},
			Err:      err,
		},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  engine.ErrorCode
		wantValue int64
	}{
		{"nil", nil, engine.OK, 0},
		{"typed no such key", &types.NoSuchKey{}, engine.ENoent, 0},
		{"head not found", responseError(404, nil, &smithy.GenericAPIError{Code: "NotFound"}), engine.ENoent, 0},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, engine.EAccess, 0},
		{"bare 403", responseError(403, nil, errors.New("forbidden")), engine.EAccess, 0},
		{"slow down with retry-after", responseError(503, nethttp.Header{"Retry-After": {"12"}}, &smithy.GenericAPIError{Code: "SlowDown"}), engine.EOverQuota, 12},
		{"slow down default delay", &smithy.GenericAPIError{Code: "SlowDown"}, engine.EOverQuota, 30},
		{"bare 503", responseError(503, nil, errors.New("unavailable")), engine.EOverQuota, 30},
		{"bad key", &smithy.GenericAPIError{Code: "KeyTooLongError"}, engine.EArgs, 0},
		{"network", errors.New("dial tcp: connection refused"), engine.ETempUnavail, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if code := engine.CodeOf(got); code != tt.wantCode {
				t.Fatalf("code = %v, want %v", code, tt.wantCode)
			}
			if v := engine.ValueOf(got); v != tt.wantValue {
				t.Errorf("value = %d, want %d", v, tt.wantValue)
			}
		})
	}
}

func TestKeyMapping(t *testing.T) {
	tests := []struct {
		prefix  string
		path    string
		key     string
		dirKey  string
		roundUp string
	}{
		{"", "/", "", "", "/"},
		{"", "/a/b.txt", "a/b.txt", "a/b.txt/", "/a/b.txt"},
		{"team/data", "/", "team/data", "team/data/", "/"},
		{"/team/", "docs/x", "team/docs/x", "team/docs/x/", "/docs/x"},
	}
	for _, tt := range tests {
		c := &Client{cfg: Config{Bucket: "b", Prefix: tt.prefix}}
		if got := c.key(tt.path); got != tt.key {
			t.Errorf("key(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.key)
		}
		if got := c.dirKey(tt.path); got != tt.dirKey {
			t.Errorf("dirKey(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.dirKey)
		}
		if got := c.enginePath(tt.key); got != tt.roundUp {
			t.Errorf("enginePath(%q) = %q, want %q", tt.key, got, tt.roundUp)
		}
	}
}

func TestParseLink(t *testing.T) {
	tests := []struct {
		link    string
		bucket  string
		prefix  string
		wantErr bool
	}{
		{"s3://public-data", "public-data", "", false},
		{"s3://public-data/genomes/2024/", "public-data", "genomes/2024", false},
		{"https://public-data", "", "", true},
		{"s3:///nobucket", "", "", true},
	}
	for _, tt := range tests {
		bucket, prefix, err := ParseLink(tt.link)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLink(%q) error = %v, wantErr %v", tt.link, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseLink(%q) = %q, %q", tt.link, bucket, prefix)
		}
	}
}
