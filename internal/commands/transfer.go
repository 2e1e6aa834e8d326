package commands

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
	"github.com/rescale/cloudcmd/internal/localfs"
	"github.com/rescale/cloudcmd/internal/progress"
)

func (x *Executor) get(_ context.Context, inv *Invocation) ExitCode {
	fset := x.flags(inv)
	ignoreQuota := fset.Bool("ignore-quota-warn", false, "start even when the transfer quota would be exceeded")
	if err := fset.Parse(inv.Args[1:]); err != nil {
		return EArgs
	}
	args := fset.Args()
	if len(args) < 1 || len(args) > 2 {
		return x.usageError(inv)
	}
	local := "."
	if len(args) == 2 {
		local = args[1]
	}

	node, err := x.stat(x.env.Engine, args[0])
	if err != nil {
		return fail(inv, "Couldn't find "+args[0], err)
	}

	if !node.IsFolder() {
		if code, ok := x.quotaAllows(inv, node.Size, *ignoreQuota); !ok {
			return code
		}
		return x.downloadFile(inv, node, localTarget(local, node.Name))
	}

	files, err := x.list(x.env.Engine, node.Path, true)
	if err != nil {
		return fail(inv, "Unable to list "+node.Path, err)
	}
	var size int64
	for _, f := range files {
		size += f.Size
	}
	if code, ok := x.quotaAllows(inv, size, *ignoreQuota); !ok {
		return code
	}

	root := filepath.Join(local, node.Name)
	m := progress.NewMulti(x.progressOptions(inv, ""))
	for _, f := range files {
		rel := strings.TrimPrefix(f.Path, strings.TrimSuffix(node.Path, "/")+"/")
		m.OnNewTransfer()
		x.env.Engine.StartDownload(f.Path, filepath.Join(root, filepath.FromSlash(rel)), m)
	}
	m.WaitMultiEnd()
	m.NotifyCompleted()

	if err := m.FinalError(); err != nil {
		return fail(inv, "Download failed", err)
	}
	fmt.Fprintf(inv.Out, "Download finished: %s (%d files, %s)\n", root, len(files), humanize.IBytes(uint64(size)))
	return OK
}

// quotaAllows runs the over-quota check unless ignore is set.
func (x *Executor) quotaAllows(inv *Invocation, size int64, ignore bool) (ExitCode, bool) {
	if ignore || x.env.Quota == nil {
		return OK, true
	}
	if msg := x.env.Quota.CheckDownload(size, constants.AdvisoryWait); msg != "" {
		fmt.Fprintln(inv.Out, msg)
		return NotPermitted, false
	}
	return OK, true
}

func (x *Executor) downloadFile(inv *Invocation, node *engine.Node, dest string) ExitCode {
	r := progress.NewRenderer(x.progressOptions(inv, ""), nil)
	x.env.Engine.StartDownload(node.Path, dest, r)
	r.Wait()
	if err := r.Err(); err != nil {
		return fail(inv, "Download failed", err)
	}
	fmt.Fprintf(inv.Out, "Download finished: %s\n", dest)
	return OK
}

// localTarget places name inside local when local is an existing directory.
func localTarget(local, name string) string {
	if fi, err := os.Stat(local); err == nil && fi.IsDir() {
		return filepath.Join(local, name)
	}
	return local
}

type upload struct {
	local  string
	remote string
}

func (x *Executor) put(_ context.Context, inv *Invocation) ExitCode {
	fset := x.flags(inv)
	if err := fset.Parse(inv.Args[1:]); err != nil {
		return EArgs
	}
	args := fset.Args()
	if len(args) == 0 {
		return x.usageError(inv)
	}

	sources := args
	remote := "/"
	if len(args) > 1 {
		sources, remote = args[:len(args)-1], args[len(args)-1]
	}
	remote = engine.CleanPath(remote)

	// An existing folder receives the sources by name; otherwise a single
	// source file is stored as remote itself.
	intoFolder := true
	if node, err := x.stat(x.env.Engine, remote); err != nil {
		if engine.CodeOf(err) != engine.ENoent {
			return fail(inv, "Unable to access "+remote, err)
		}
		intoFolder = false
	} else if !node.IsFolder() {
		intoFolder = false
	}

	var uploads []upload
	for _, src := range sources {
		fi, err := os.Stat(src)
		if err != nil {
			fmt.Fprintf(inv.Out, "Unable to read %s: %v\n", src, err)
			return NotFound
		}
		if !fi.IsDir() {
			dest := remote
			if intoFolder {
				dest = path.Join(remote, filepath.Base(src))
			}
			uploads = append(uploads, upload{local: src, remote: dest})
			continue
		}

		base := path.Join(remote, filepath.Base(src))
		err = localfs.WalkFiles(src, localfs.WalkOptions{IncludeHidden: true}, func(e localfs.FileEntry) error {
			uploads = append(uploads, upload{local: e.Path, remote: path.Join(base, e.Rel)})
			return nil
		})
		if err != nil {
			fmt.Fprintf(inv.Out, "Unable to read %s: %v\n", src, err)
			return NotFound
		}
	}

	if len(uploads) > 1 && !intoFolder {
		fmt.Fprintf(inv.Out, "Destination %s is not a folder\n", remote)
		return InvalidType
	}

	if len(uploads) == 1 {
		r := progress.NewRenderer(x.progressOptions(inv, ""), nil)
		x.env.Engine.StartUpload(uploads[0].local, uploads[0].remote, r)
		r.Wait()
		if err := r.Err(); err != nil {
			return fail(inv, "Upload failed", err)
		}
		fmt.Fprintf(inv.Out, "Upload finished: %s\n", uploads[0].remote)
		return OK
	}

	m := progress.NewMulti(x.progressOptions(inv, ""))
	for _, u := range uploads {
		m.OnNewTransfer()
		x.env.Engine.StartUpload(u.local, u.remote, m)
	}
	m.WaitMultiEnd()
	m.NotifyCompleted()

	if err := m.FinalError(); err != nil {
		return fail(inv, "Upload failed", err)
	}
	fmt.Fprintf(inv.Out, "Upload finished: %d files\n", len(uploads))
	return OK
}
