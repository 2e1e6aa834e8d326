package local

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rescale/cloudcmd/internal/engine"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

func put(t *testing.T, b *Backend, p, content string) {
	t.Helper()
	if err := b.Put(context.Background(), p, strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put(%s) error = %v", p, err)
	}
}

func TestPutGetStat(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	put(t, b, "/docs/report.txt", "hello")

	o, err := b.Stat(ctx, "docs/report.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if o.Path != "/docs/report.txt" || o.Size != 5 || o.Dir {
		t.Errorf("Stat() = %+v", o)
	}

	dir, err := b.Stat(ctx, "/docs")
	if err != nil || !dir.Dir {
		t.Errorf("Stat(/docs) = %+v, %v; want a folder", dir, err)
	}

	var buf bytes.Buffer
	n, err := b.Get(ctx, "/docs/report.txt", &buf)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n != 5 || buf.String() != "hello" {
		t.Errorf("Get() = %d %q", n, buf.String())
	}

	if _, err := b.Stat(ctx, "/nope"); engine.CodeOf(err) != engine.ENoent {
		t.Errorf("Stat(/nope) code = %v, want ENOENT", engine.CodeOf(err))
	}
}

func TestPutShortReadLeavesNothing(t *testing.T) {
	b := newBackend(t)
	err := b.Put(context.Background(), "/short.bin", strings.NewReader("abc"), 10)
	if engine.CodeOf(err) != engine.ERead {
		t.Fatalf("Put() code = %v, want EREAD", engine.CodeOf(err))
	}
	entries, _ := os.ReadDir(b.root)
	if len(entries) != 0 {
		t.Errorf("root has %d entries after a failed put", len(entries))
	}
}

func TestList(t *testing.T) {
	b := newBackend(t)
	put(t, b, "/a/one.txt", "1")
	put(t, b, "/a/two.txt", "22")
	put(t, b, "/a/sub/three.txt", "333")

	tests := []struct {
		name      string
		recursive bool
		want      []string
	}{
		{"children", false, []string{"/a/one.txt", "/a/sub", "/a/two.txt"}},
		{"recursive files", true, []string{"/a/one.txt", "/a/sub/three.txt", "/a/two.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs, err := b.List(context.Background(), "/a", tt.recursive)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			var got []string
			for _, o := range objs {
				got = append(got, o.Path)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("List() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	put(t, b, "/x/file", "data")

	if err := b.Delete(ctx, "/x"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(b.root, "x")); !os.IsNotExist(err) {
		t.Errorf("folder still present: %v", err)
	}
	if err := b.Delete(ctx, "/x"); engine.CodeOf(err) != engine.ENoent {
		t.Errorf("second Delete() code = %v, want ENOENT", engine.CodeOf(err))
	}
	if err := b.Delete(ctx, "/"); engine.CodeOf(err) != engine.EArgs {
		t.Errorf("Delete(/) code = %v, want EARGS", engine.CodeOf(err))
	}
}

func TestGetHonoursCancellation(t *testing.T) {
	b := newBackend(t)
	put(t, b, "/f", "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Get(ctx, "/f", &bytes.Buffer{}); engine.CodeOf(err) != engine.EIncomplete {
		t.Errorf("Get() code = %v, want EINCOMPLETE", engine.CodeOf(err))
	}
}

func TestOpenLink(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	put(t, b, "/public/shared.txt", "shared")
	put(t, b, "/private.txt", "secret")

	anon, err := b.Anonymous()
	if err != nil {
		t.Fatalf("Anonymous() error = %v", err)
	}

	if _, err := anon.OpenLink(ctx, "http://elsewhere"); engine.CodeOf(err) != engine.EArgs {
		t.Errorf("foreign link code = %v, want EARGS", engine.CodeOf(err))
	}
	if _, err := anon.OpenLink(ctx, LinkScheme+"missing"); engine.CodeOf(err) != engine.ENoent {
		t.Errorf("missing link code = %v, want ENOENT", engine.CodeOf(err))
	}

	linked, err := anon.OpenLink(ctx, LinkScheme+"public")
	if err != nil {
		t.Fatalf("OpenLink() error = %v", err)
	}
	objs, err := linked.List(ctx, "/", false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objs) != 1 || objs[0].Path != "/shared.txt" {
		t.Errorf("linked listing = %+v", objs)
	}
	if _, err := linked.Stat(ctx, "/../private.txt"); err == nil {
		t.Error("link escaped its folder")
	}
	if err := linked.Put(ctx, "/new", strings.NewReader("x"), 1); engine.CodeOf(err) != engine.EAccess {
		t.Errorf("Put() on link code = %v, want EACCESS", engine.CodeOf(err))
	}
}
