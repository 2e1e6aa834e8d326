package engine

import (
	"hash/fnv"
	"path"
	"strings"
	"time"
)

// Handle is the stable identity of a node in the remote tree.
type Handle uint64

// InvalidHandle never names a node.
const InvalidHandle Handle = 0

// HandleFor derives the handle of the node at remote path p.
func HandleFor(p string) Handle {
	h := fnv.New64a()
	h.Write([]byte(CleanPath(p)))
	if v := h.Sum64(); v != 0 {
		return Handle(v)
	}
	return 1
}

// CleanPath normalizes a remote path to "/a/b" form. The root is "/".
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean("/" + p)
}

// NodeType distinguishes files from folders.
type NodeType int

const (
	NodeFile NodeType = iota
	NodeFolder
)

// Node is one entry of the remote tree.
type Node struct {
	Handle  Handle
	Name    string
	Path    string
	Type    NodeType
	Size    int64
	ModTime time.Time
}

// IsFolder reports whether the node is a folder.
func (n *Node) IsFolder() bool { return n.Type == NodeFolder }

// AccountDetails answers an account query.
type AccountDetails struct {
	// TemporalBandwidth is the number of bytes transferred within the last
	// TemporalBandwidthInterval hours.
	TemporalBandwidth         int64
	TemporalBandwidthInterval int
	TemporalBandwidthValid    bool

	// BandwidthLimit is the allowance over the same interval, 0 for unlimited.
	BandwidthLimit int64

	// OverQuotaDelay is the number of seconds until transfers are allowed again.
	OverQuotaDelay int64

	StorageUsed int64
}

// RequestType identifies what a Request asked the engine to do.
type RequestType int

const (
	RequestFetchNodes RequestType = iota
	RequestAccountDetails
	RequestQueryTransferQuota
	RequestList
	RequestStat
	RequestRemove
	RequestCancelTransfer
	RequestPauseTransfer
	RequestOpenLink
	RequestLogout
	RequestRetryConnections
)

var requestNames = map[RequestType]string{
	RequestFetchNodes:         "FETCH_NODES",
	RequestAccountDetails:     "ACCOUNT_DETAILS",
	RequestQueryTransferQuota: "QUERY_TRANSFER_QUOTA",
	RequestList:               "LIST",
	RequestStat:               "STAT",
	RequestRemove:             "REMOVE",
	RequestCancelTransfer:     "CANCEL_TRANSFER",
	RequestPauseTransfer:      "PAUSE_TRANSFER",
	RequestOpenLink:           "OPEN_LINK",
	RequestLogout:             "LOGOUT",
	RequestRetryConnections:   "RETRY_CONNECTIONS",
}

func (t RequestType) String() string {
	if s, ok := requestNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Request describes one asynchronous engine call and, after it finishes, its
// result payload. Which fields are meaningful depends on Type.
type Request struct {
	Type RequestType
	Tag  int

	Path   string
	Link   string
	Number int64
	Flag   bool

	// Progress for long-running requests such as FetchNodes.
	TransferredBytes int64
	TotalBytes       int64

	Node    *Node
	Nodes   []Node
	Account *AccountDetails
}

// TransferType is the direction of a transfer.
type TransferType int

const (
	TransferDownload TransferType = iota
	TransferUpload
)

func (t TransferType) String() string {
	if t == TransferUpload {
		return "UPLOAD"
	}
	return "DOWNLOAD"
}

// TransferState is the lifecycle stage of a transfer.
type TransferState int

const (
	TransferQueued TransferState = iota
	TransferActive
	TransferPaused
	TransferRetrying
	TransferCompleting
	TransferCompleted
	TransferCancelled
	TransferFailed
)

var stateNames = map[TransferState]string{
	TransferQueued:     "QUEUED",
	TransferActive:     "ACTIVE",
	TransferPaused:     "PAUSED",
	TransferRetrying:   "RETRYING",
	TransferCompleting: "COMPLETING",
	TransferCompleted:  "COMPLETED",
	TransferCancelled:  "CANCELLED",
	TransferFailed:     "FAILED",
}

func (s TransferState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// IsTerminal returns true if the transfer will not change state again.
func (s TransferState) IsTerminal() bool {
	return s == TransferCompleted || s == TransferCancelled || s == TransferFailed
}

// Transfer is the engine's view of one upload or download. Callbacks receive
// a snapshot; listeners that keep it beyond the callback must Clone it.
type Transfer struct {
	Tag   int
	Type  TransferType
	State TransferState

	// LocalPath is the local file (destination of downloads, source of uploads).
	LocalPath string
	// RemotePath is the remote object (source of downloads, destination of uploads).
	RemotePath string
	// NodeHandle identifies the remote node involved.
	NodeHandle Handle
	FileName   string

	TransferredBytes int64
	TotalBytes       int64
	Speed            int64 // bytes/sec

	StartTime  time.Time
	UpdateTime time.Time
	LastError  error
}

// Clone returns a deep copy of the transfer.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Progress returns transferred/total in [0,1], or 0 when the total is unknown.
func (t *Transfer) Progress() float64 {
	if t.TotalBytes <= 0 {
		return 0
	}
	p := float64(t.TransferredBytes) / float64(t.TotalBytes)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}
