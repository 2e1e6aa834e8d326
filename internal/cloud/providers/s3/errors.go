package s3

import (
	"errors"
	nethttp "net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/rescale/cloudcmd/internal/cloud/storage"
	"github.com/rescale/cloudcmd/internal/engine"
)

// classify maps an AWS SDK error onto an engine outcome. Throttling becomes
// a temporary EOverQuota whose value is the advertised cooldown in seconds.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var status int
	var header nethttp.Header
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
		if respErr.Response != nil && respErr.Response.Response != nil {
			header = respErr.Response.Header
		}
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return engine.Wrap(engine.ENoent, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return engine.Wrap(engine.ENoent, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "AllAccessDisabled":
			return engine.Wrap(engine.EAccess, err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "ServiceUnavailable", "TooManyRequests":
			return overQuota(err, header)
		case "InvalidObjectName", "KeyTooLongError", "InvalidBucketName":
			return engine.Wrap(engine.EArgs, err)
		}
	}

	switch status {
	case nethttp.StatusNotFound:
		return engine.Wrap(engine.ENoent, err)
	case nethttp.StatusForbidden, nethttp.StatusUnauthorized:
		return engine.Wrap(engine.EAccess, err)
	case nethttp.StatusServiceUnavailable, nethttp.StatusTooManyRequests:
		return overQuota(err, header)
	}
	return storage.Classify(err)
}

func overQuota(err error, header nethttp.Header) error {
	return &engine.Error{Code: engine.EOverQuota, Value: storage.RetryAfter(header), Err: err}
}
