package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/listener"
	"github.com/rescale/cloudcmd/internal/progress"
	"github.com/rescale/cloudcmd/internal/transfer"
)

func (x *Executor) transfers(_ context.Context, inv *Invocation) ExitCode {
	fset := x.flags(inv)
	cancel := fset.BoolP("cancel", "c", false, "cancel the transfer with TAG")
	pause := fset.BoolP("pause", "p", false, "pause the transfer with TAG")
	resume := fset.BoolP("resume", "r", false, "resume the transfer with TAG")
	all := fset.BoolP("all", "a", false, "apply -c, -p or -r to every transfer")

	var opts transfer.ReportOptions
	fset.BoolVar(&opts.ShowCompleted, "show-completed", false, "include finished transfers")
	fset.BoolVar(&opts.OnlyCompleted, "only-completed", false, "show only finished transfers")
	fset.BoolVar(&opts.OnlyUploads, "only-uploads", false, "show only uploads")
	fset.BoolVar(&opts.OnlyDownloads, "only-downloads", false, "show only downloads")
	fset.IntVar(&opts.Limit, "limit", transfer.DefaultReportLimit, "maximum number of rows")
	fset.IntVar(&opts.PathSize, "path-display-size", 0, "width of the path columns")
	if err := fset.Parse(inv.Args[1:]); err != nil {
		return EArgs
	}

	actions := 0
	for _, set := range []bool{*cancel, *pause, *resume} {
		if set {
			actions++
		}
	}
	if actions > 1 {
		return x.usageError(inv)
	}
	if actions == 0 {
		if *all || fset.NArg() > 0 {
			return x.usageError(inv)
		}
		opts.Columns = progress.Columns(inv.Out)
		report := &transfer.Report{Ledger: x.env.Ledger, Resolve: x.env.Engine.NodePath}
		report.Write(inv.Out, x.env.Engine.Transfers(), opts)
		return OK
	}

	var tags []int
	switch {
	case *all && fset.NArg() == 0:
		for _, tr := range x.env.Engine.Transfers() {
			tags = append(tags, tr.Tag)
		}
	case !*all && fset.NArg() == 1:
		tag, err := strconv.Atoi(fset.Arg(0))
		if err != nil {
			fmt.Fprintf(inv.Out, "Invalid transfer tag: %s\n", fset.Arg(0))
			return EArgs
		}
		tags = append(tags, tag)
	default:
		return x.usageError(inv)
	}

	code := OK
	for _, tag := range tags {
		l := x.request()
		verb := "cancel"
		switch {
		case *cancel:
			x.env.Engine.CancelTransfer(tag, l)
		case *pause:
			verb = "pause"
			x.env.Engine.PauseTransfer(tag, true, l)
		default:
			verb = "resume"
			x.env.Engine.PauseTransfer(tag, false, l)
		}
		l.Wait()
		if err := l.Err(); err != nil {
			code = fail(inv, fmt.Sprintf("Unable to %s transfer %d", verb, tag), err)
			continue
		}
		fmt.Fprintf(inv.Out, "Transfer %d: %s requested\n", tag, verb)
	}
	return code
}

func (x *Executor) quota(_ context.Context, inv *Invocation) ExitCode {
	if x.env.Quota == nil {
		fmt.Fprintln(inv.Out, "Quota information is not available")
		return InvalidState
	}

	usage, err := x.env.Quota.Usage(constants.AdvisoryWait)
	switch {
	case usage != nil && usage.TemporalBandwidthValid:
		fmt.Fprintf(inv.Out, "Transfer usage: %s in the last %d hours\n",
			humanize.IBytes(uint64(usage.TemporalBandwidth)), usage.TemporalBandwidthInterval)
		if usage.BandwidthLimit > 0 {
			fmt.Fprintf(inv.Out, "Transfer limit: %s\n", humanize.IBytes(uint64(usage.BandwidthLimit)))
		}
	case errors.Is(err, listener.ErrTimeout):
		fmt.Fprintln(inv.Out, "Transfer usage: not available yet")
	default:
		fmt.Fprintln(inv.Out, "Transfer usage: unknown")
	}

	if x.env.Quota.OverQuota() {
		fmt.Fprintf(inv.Out, "Over quota: yes, transfers allowed again in %s\n", x.env.Quota.Remaining())
	} else {
		fmt.Fprintln(inv.Out, "Over quota: no")
	}
	return OK
}

func (x *Executor) sessions(_ context.Context, inv *Invocation) ExitCode {
	fmt.Fprintf(inv.Out, "Main session: %s\n", x.env.Engine.Location())

	l := x.request()
	x.env.Engine.GetAccountDetails(l)
	if err := l.TryWait(constants.SessionInfoWait); err != nil {
		inv.Logger.Debug().Msg("Account details not ready, skipping")
	} else if err := l.Err(); err != nil {
		inv.Logger.Debug().Err(err).Msg("Account details unavailable")
	} else if account := l.Request().Account; account != nil {
		fmt.Fprintf(inv.Out, "  Storage used: %s\n", humanize.IBytes(uint64(account.StorageUsed)))
		if account.TemporalBandwidthValid {
			fmt.Fprintf(inv.Out, "  Transfer usage: %s in the last %d hours\n",
				humanize.IBytes(uint64(account.TemporalBandwidth)), account.TemporalBandwidthInterval)
		}
	}

	ongoing := x.env.Engine.Transfers()
	fmt.Fprintf(inv.Out, "  Transfers in flight: %d\n", len(ongoing))
	if x.env.Ledger != nil {
		stats := x.env.Ledger.Stats()
		fmt.Fprintf(inv.Out, "  Finished transfers: %d (%d failed, %d cancelled)\n", stats.Total(), stats.Failed, stats.Cancelled)
	}

	if x.env.Pool != nil {
		stats := x.env.Pool.Stats()
		fmt.Fprintf(inv.Out, "Public-link sessions: %d (%d free, %d in use)\n", stats.Size, stats.Free, stats.Occupied)
	}
	return OK
}
