// Package engine defines the contract between cloudcmd and the storage engine
// that actually moves bytes. Every engine call is asynchronous: it returns
// immediately and reports progress and its single outcome through listener
// callbacks, delivered from the engine's own goroutines. Package listener turns
// those callbacks into blocking waits for straight-line command code.
package engine

// RequestListener receives the lifecycle of one asynchronous request.
// OnRequestFinish is called exactly once per request.
type RequestListener interface {
	OnRequestStart(req *Request)
	OnRequestUpdate(req *Request)
	OnRequestTemporaryError(req *Request, err error)
	OnRequestFinish(req *Request, err error)
}

// TransferListener receives the lifecycle of one transfer.
// OnTransferFinish is called exactly once per transfer.
type TransferListener interface {
	OnTransferStart(t *Transfer)
	OnTransferUpdate(t *Transfer)
	OnTransferTemporaryError(t *Transfer, err error)
	OnTransferFinish(t *Transfer, err error)
}

// GlobalListener receives account-level notifications.
type GlobalListener interface {
	OnAccountUpdate()
}

// BaseRequestListener implements RequestListener with no-ops. Embed it to
// override only the callbacks of interest.
type BaseRequestListener struct{}

func (BaseRequestListener) OnRequestStart(*Request)                 {}
func (BaseRequestListener) OnRequestUpdate(*Request)                {}
func (BaseRequestListener) OnRequestTemporaryError(*Request, error) {}
func (BaseRequestListener) OnRequestFinish(*Request, error)         {}

// BaseTransferListener implements TransferListener with no-ops.
type BaseTransferListener struct{}

func (BaseTransferListener) OnTransferStart(*Transfer)                 {}
func (BaseTransferListener) OnTransferUpdate(*Transfer)                {}
func (BaseTransferListener) OnTransferTemporaryError(*Transfer, error) {}
func (BaseTransferListener) OnTransferFinish(*Transfer, error)         {}

// Session is the read side of the remote tree. Both the main authenticated
// session and anonymous folder-link sessions implement it.
type Session interface {
	// FetchNodes loads (or reloads) the remote tree.
	FetchNodes(l RequestListener)
	// List returns the children of path in req.Nodes, or every descendant
	// file when recursive is set.
	List(path string, recursive bool, l RequestListener)
	// Stat returns the node at path in req.Node.
	Stat(path string, l RequestListener)
	// Location describes what the session is bound to (bucket, container, link).
	Location() string
}

// FolderSession is an anonymous session that can be bound to a public link.
type FolderSession interface {
	Session
	// OpenLink binds the session to a public location. Re-binding replaces
	// the previous link.
	OpenLink(link string, l RequestListener)
	// CloseLink unbinds the session so it can be handed to another user.
	CloseLink()
}

// Engine is the main authenticated session plus transfer execution.
type Engine interface {
	Session

	// StartDownload fetches the file at remotePath into localPath.
	StartDownload(remotePath, localPath string, l TransferListener)
	// StartUpload stores the file at localPath as remotePath.
	StartUpload(localPath, remotePath string, l TransferListener)

	Remove(path string, l RequestListener)
	CancelTransfer(tag int, l RequestListener)
	PauseTransfer(tag int, pause bool, l RequestListener)

	// GetAccountDetails answers in req.Account.
	GetAccountDetails(l RequestListener)
	// QueryTransferQuota sets req.Flag when transferring size more bytes
	// would exceed the current allowance.
	QueryTransferQuota(size int64, l RequestListener)

	// Transfers returns snapshots of the transfers still in flight.
	Transfers() []*Transfer
	// NodePath resolves a handle to its current remote path, or "" if unknown.
	NodePath(h Handle) string

	// NewFolderSession creates an anonymous session for public-link browsing.
	NewFolderSession() (FolderSession, error)

	AddRequestListener(l RequestListener)
	RemoveRequestListener(l RequestListener)
	AddTransferListener(l TransferListener)
	RemoveTransferListener(l TransferListener)
	AddGlobalListener(l GlobalListener)
	RemoveGlobalListener(l GlobalListener)

	// RetryPendingConnections retries whatever is waiting on the network.
	RetryPendingConnections()

	Close() error
}
