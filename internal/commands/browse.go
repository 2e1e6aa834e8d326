package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/engine"
)

func (x *Executor) ls(ctx context.Context, inv *Invocation) ExitCode {
	fset := x.flags(inv)
	long := fset.BoolP("long", "l", false, "print size and modification time")
	link := fset.String("link", "", "browse a public location with an anonymous session")
	if err := fset.Parse(inv.Args[1:]); err != nil {
		return EArgs
	}
	args := fset.Args()
	if len(args) > 1 {
		return x.usageError(inv)
	}
	p := "/"
	if len(args) == 1 {
		p = args[0]
	}

	var session engine.Session = x.env.Engine
	if *link != "" {
		if x.env.Pool == nil {
			fmt.Fprintln(inv.Out, "Public locations cannot be browsed: no session pool")
			return InvalidState
		}
		fsession, err := x.env.Pool.Acquire(ctx)
		if err != nil {
			return fail(inv, "Unable to get a session", err)
		}
		defer func() {
			if err := x.env.Pool.Release(fsession); err != nil {
				inv.Logger.Error().Err(err).Msg("Failed to release folder session")
			}
		}()

		l := x.request()
		fsession.OpenLink(*link, l)
		l.Wait()
		if err := l.Err(); err != nil {
			return fail(inv, "Unable to open "+*link, err)
		}
		session = fsession
	}

	node, err := x.stat(session, p)
	if err != nil {
		return fail(inv, "Couldn't find "+p, err)
	}
	nodes := []engine.Node{*node}
	if node.IsFolder() {
		// p rather than node.Path: public-link sessions resolve paths
		// relative to the link root.
		if nodes, err = x.list(session, p, false); err != nil {
			return fail(inv, "Unable to list "+p, err)
		}
	}

	for _, n := range nodes {
		name := n.Name
		if n.IsFolder() {
			name += "/"
		}
		if !*long {
			fmt.Fprintln(inv.Out, name)
			continue
		}
		kind, size := "-", humanize.IBytes(uint64(n.Size))
		if n.IsFolder() {
			kind, size = "d", "-"
		}
		modified := "-"
		if !n.ModTime.IsZero() {
			modified = n.ModTime.Format("02Jan2006 15:04:05")
		}
		fmt.Fprintf(inv.Out, "%s %10s %18s %s\n", kind, size, modified, name)
	}
	return OK
}

func (x *Executor) rm(_ context.Context, inv *Invocation) ExitCode {
	fset := x.flags(inv)
	recursive := fset.BoolP("recursive", "r", false, "delete folders and their contents")
	force := fset.BoolP("force", "f", false, "do not ask for confirmation")
	if err := fset.Parse(inv.Args[1:]); err != nil {
		return EArgs
	}
	targets := fset.Args()
	if len(targets) == 0 {
		return x.usageError(inv)
	}

	code := OK
	all := *force
	for _, target := range targets {
		node, err := x.stat(x.env.Engine, target)
		if err != nil {
			code = fail(inv, "Couldn't find "+target, err)
			continue
		}

		if node.IsFolder() {
			if !*recursive {
				fmt.Fprintf(inv.Out, "Unable to delete folder %s: use -r\n", node.Path)
				code = InvalidType
				continue
			}
			if !all {
				children, err := x.list(x.env.Engine, node.Path, false)
				if err != nil {
					code = fail(inv, "Unable to list "+node.Path, err)
					continue
				}
				if len(children) > 0 {
					answer, err := Confirm(inv.Asker, fmt.Sprintf("Delete non empty folder %s? %s", node.Path, constants.PromptAreYouSureDelete))
					if errors.Is(err, ErrNotInteractive) {
						fmt.Fprintf(inv.Out, "Folder %s is not empty. Use -f to delete it without confirmation\n", node.Path)
						code = ReqConfirm
						continue
					}
					if err != nil {
						return fail(inv, "Confirmation failed", err)
					}
					if answer == ConfirmNone {
						return code
					}
					if answer == ConfirmAll {
						all = true
					}
					if !answer.Accepts() {
						continue
					}
				}
			}
		}

		l := x.request()
		x.env.Engine.Remove(node.Path, l)
		l.Wait()
		if err := l.Err(); err != nil {
			code = fail(inv, "Unable to delete "+node.Path, err)
			continue
		}
		inv.Logger.Debug().Str("path", node.Path).Msg("Removed")
	}
	return code
}
