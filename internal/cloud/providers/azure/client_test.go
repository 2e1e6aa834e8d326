package azure

import (
	"errors"
	nethttp "net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/rescale/cloudcmd/internal/engine"
)

func TestClassify(t *testing.T) {
	busy := &azcore.ResponseError{
		ErrorCode:   "ServerBusy",
		StatusCode:  503,
		RawResponse: &nethttp.Response{StatusCode: 503, Header: nethttp.Header{"Retry-After": {"45"}}},
	}

	tests := []struct {
		name      string
		err       error
		wantCode  engine.ErrorCode
		wantValue int64
	}{
		{"nil", nil, engine.OK, 0},
		{"blob not found", &azcore.ResponseError{ErrorCode: "BlobNotFound", StatusCode: 404}, engine.ENoent, 0},
		{"head 404 without code", &azcore.ResponseError{StatusCode: 404}, engine.ENoent, 0},
		{"server busy", busy, engine.EOverQuota, 45},
		{"throttled without header", &azcore.ResponseError{StatusCode: 429}, engine.EOverQuota, 30},
		{"auth failed", &azcore.ResponseError{ErrorCode: "AuthenticationFailed", StatusCode: 403}, engine.EAccess, 0},
		{"bad name", &azcore.ResponseError{ErrorCode: "InvalidResourceName", StatusCode: 400}, engine.EArgs, 0},
		{"transport", errors.New("dial tcp: i/o timeout"), engine.ETempUnavail, 0},
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

func TestParseLink(t *testing.T) {
	tests := []struct {
		link      string
		urlPrefix string
		prefix    string
		wantErr   bool
	}{
		{"https://acct.blob.core.windows.net/public", "https://acct.blob.core.windows.net/public", "", false},
		{"https://acct.blob.core.windows.net/public/runs/2024/", "https://acct.blob.core.windows.net/public", "runs/2024", false},
		{"https://acct.blob.core.windows.net/public/runs?sv=2021-06-08&sig=abc", "https://acct.blob.core.windows.net/public?", "runs", false},
		{"https://acct.blob.core.windows.net/", "", "", true},
		{"s3://bucket", "", "", true},
	}
	for _, tt := range tests {
		u, prefix, err := ParseLink(tt.link)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLink(%q) error = %v, wantErr %v", tt.link, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if !strings.HasPrefix(u, tt.urlPrefix) || prefix != tt.prefix {
			t.Errorf("ParseLink(%q) = %q, %q", tt.link, u, prefix)
		}
	}
}

func TestBlobNameMapping(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		name   string
		dir    string
	}{
		{"", "/", "", ""},
		{"", "/a/b", "a/b", "a/b/"},
		{"runs", "/", "runs", "runs/"},
		{"runs", "/out.log", "runs/out.log", "runs/out.log/"},
	}
	for _, tt := range tests {
		c := &Client{prefix: tt.prefix}
		if got := c.blobName(tt.path); got != tt.name {
			t.Errorf("blobName(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.name)
		}
		if got := c.dirPrefix(tt.path); got != tt.dir {
			t.Errorf("dirPrefix(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.dir)
		}
		if got := c.enginePath(tt.name); got != engine.CleanPath(tt.path) {
			t.Errorf("enginePath(%q) = %q, want %q", tt.name, got, engine.CleanPath(tt.path))
		}
	}
}
