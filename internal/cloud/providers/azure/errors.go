package azure

import (
	"errors"
	nethttp "net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/rescale/cloudcmd/internal/cloud/storage"
	"github.com/rescale/cloudcmd/internal/engine"
)

// classify maps an Azure SDK error onto an engine outcome. ServerBusy and
// friends become a temporary EOverQuota carrying the Retry-After seconds.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return storage.Classify(err)
	}

	var header nethttp.Header
	if respErr.RawResponse != nil {
		header = respErr.RawResponse.Header
	}

	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound),
		respErr.StatusCode == nethttp.StatusNotFound:
		return engine.Wrap(engine.ENoent, err)
	case bloberror.HasCode(err, bloberror.ServerBusy, bloberror.OperationTimedOut),
		respErr.StatusCode == nethttp.StatusServiceUnavailable,
		respErr.StatusCode == nethttp.StatusTooManyRequests:
		return &engine.Error{Code: engine.EOverQuota, Value: storage.RetryAfter(header), Err: err}
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure, bloberror.InsufficientAccountPermissions),
		respErr.StatusCode == nethttp.StatusForbidden,
		respErr.StatusCode == nethttp.StatusUnauthorized:
		return engine.Wrap(engine.EAccess, err)
	case bloberror.HasCode(err, bloberror.InvalidResourceName, bloberror.InvalidURI):
		return engine.Wrap(engine.EArgs, err)
	}
	return storage.Classify(err)
}
