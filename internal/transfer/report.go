package transfer

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rescale/cloudcmd/internal/engine"
)

// DefaultReportLimit is the number of rows shown when no limit is given.
const DefaultReportLimit = 10

// ReportOptions select what the transfer listing shows.
type ReportOptions struct {
	ShowCompleted bool
	OnlyCompleted bool
	OnlyUploads   bool
	OnlyDownloads bool
	// Limit caps the number of rows; zero means DefaultReportLimit.
	Limit int
	// PathSize is the width of the path columns; zero derives it from Columns.
	PathSize int
	Columns  int
}

func (o ReportOptions) wants(tr *engine.Transfer) bool {
	if o.OnlyUploads == o.OnlyDownloads {
		return true
	}
	if o.OnlyUploads {
		return tr.Type == engine.TransferUpload
	}
	return tr.Type == engine.TransferDownload
}

func (o ReportOptions) pathSize() int {
	if o.PathSize > 0 {
		return o.PathSize
	}
	cols := o.Columns
	if cols <= 0 {
		cols = 80
	}
	// direction + tag + progress + state take about 46 columns
	size := (cols - 46) / 2
	if size < 12 {
		size = 12
	}
	return size
}

// Report writes the transfer listing: completed transfers from the ledger
// (when asked for) followed by those still in flight.
type Report struct {
	Ledger  *Ledger
	Resolve PathResolver
}

// Write renders ongoing and, depending on opts, completed transfers to w.
// It returns the number of rows written.
func (r *Report) Write(w io.Writer, ongoing []*engine.Transfer, opts ReportOptions) int {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultReportLimit
	}

	var rows []*engine.Transfer
	if (opts.ShowCompleted || opts.OnlyCompleted) && r.Ledger != nil {
		for _, tr := range r.Ledger.Snapshot(0) {
			if opts.wants(tr) {
				rows = append(rows, tr)
			}
		}
	}
	if !opts.OnlyCompleted {
		var downloads, uploads []*engine.Transfer
		for _, tr := range ongoing {
			if !opts.wants(tr) || (tr.State == engine.TransferCompleted && !opts.ShowCompleted) {
				continue
			}
			if tr.Type == engine.TransferDownload {
				downloads = append(downloads, tr)
			} else {
				uploads = append(uploads, tr)
			}
		}
		rows = append(rows, downloads...)
		rows = append(rows, uploads...)
	}

	if len(rows) == 0 {
		return 0
	}

	size := opts.pathSize()
	paused := pausedKinds(ongoing)
	if paused != "" {
		fmt.Fprintf(w, "            %s ARE PAUSED\n", paused)
	}
	fmt.Fprintf(w, "DIR/SYNC TAG  %s%s  %s  STATE\n",
		fixLength("SOURCEPATH ", size, false), fixLength("DESTINYPATH ", size, false), fixLength("    PROGRESS", 21, false))

	written := 0
	for _, tr := range rows {
		if written == limit {
			fmt.Fprintf(w, " ...  Showing first %d transfers ...\n", limit)
			break
		}
		r.writeRow(w, tr, size)
		written++
	}
	return written
}

func (r *Report) writeRow(w io.Writer, tr *engine.Transfer, size int) {
	var source, dest string
	if tr.Type == engine.TransferDownload {
		source = r.remotePath(tr)
		dest = tr.LocalPath
	} else {
		source = tr.LocalPath
		dest = r.remotePath(tr)
	}

	percent := tr.Progress() * 100
	fmt.Fprintf(w, " %s  %7d %s %s  %s of %s  %s\n",
		direction(tr.Type),
		tr.Tag,
		fixLength(source, size, false),
		fixLength(dest, size, false),
		fixLength(fmt.Sprintf("%.2f%%", percent), 7, true),
		fixLength(humanize.IBytes(uint64(max(tr.TotalBytes, 0))), 10, true),
		tr.State)
}

// remotePath prefers the node's current path, then the path recorded when
// the transfer finished, then the path the transfer was started with.
func (r *Report) remotePath(tr *engine.Transfer) string {
	if r.Resolve != nil {
		if p := r.Resolve(tr.NodeHandle); p != "" {
			return p
		}
	}
	if r.Ledger != nil {
		if p, ok := r.Ledger.Path(tr.NodeHandle); ok {
			return p
		}
	}
	return tr.RemotePath
}

func pausedKinds(ongoing []*engine.Transfer) string {
	var down, up bool
	for _, tr := range ongoing {
		if tr.State != engine.TransferPaused {
			continue
		}
		if tr.Type == engine.TransferDownload {
			down = true
		} else {
			up = true
		}
	}
	switch {
	case down && up:
		return "DOWNLOADS AND UPLOADS"
	case down:
		return "DOWNLOADS"
	case up:
		return "UPLOADS"
	}
	return ""
}

func direction(t engine.TransferType) string {
	if runtime.GOOS == "windows" {
		if t == engine.TransferDownload {
			return "D"
		}
		return "U"
	}
	if t == engine.TransferDownload {
		return "⇓"
	}
	return "⇑"
}

// fixLength pads or shortens s to exactly n runes. Long strings keep their
// head and tail around "...".
func fixLength(s string, n int, alignRight bool) string {
	runes := []rune(s)
	if len(runes) > n {
		if n <= 3 {
			return string(runes[:n])
		}
		head := (n - 3) / 2
		tail := n - 3 - head
		return string(runes[:head]) + "..." + string(runes[len(runes)-tail:])
	}
	pad := strings.Repeat(" ", n-len(runes))
	if alignRight {
		return pad + s
	}
	return s + pad
}
