package control

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

const (
	errorKindKey  = "x-error-kind"
	statusCodeKey = "x-status-code"
	attemptKey    = "x-attempt"
)

func grpcCode(kind errors.ErrorType) codes.Code {
	switch kind {
	case errors.ErrorTypeValidation:
		return codes.InvalidArgument
	case errors.ErrorTypeTimeout:
		return codes.DeadlineExceeded
	case errors.ErrorTypeConnectivity, errors.ErrorTypeProcessCrash, errors.ErrorTypeSpawnFailure:
		return codes.Unavailable
	case errors.ErrorTypeServiceRejection:
		return codes.FailedPrecondition
	case errors.ErrorTypeCancelled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// toStatus encodes a classified error as a gRPC status plus trailer metadata
func toStatus(ctx context.Context, err error) error {
	classified := errors.Classify(err)
	trailer := metadata.Pairs(
		errorKindKey, string(classified.Kind),
		statusCodeKey, strconv.Itoa(classified.StatusCode),
		attemptKey, strconv.Itoa(classified.Attempt),
	)
	_ = grpc.SetTrailer(ctx, trailer)
	return status.Error(grpcCode(classified.Kind), classified.UserMessage())
}

// fromStatus rebuilds the classified error from a gRPC failure. Failures that
// never reached the Bridge handler carry no trailer and are classified by code.
func fromStatus(err error, trailer metadata.MD) *errors.ClassifiedError {
	st, _ := status.FromError(err)

	if kinds := trailer.Get(errorKindKey); len(kinds) > 0 {
		classified := errors.NewTerminalError(errors.ErrorType(kinds[0]), firstInt(trailer, statusCodeKey), st.Message(), nil)
		classified.Attempt = firstInt(trailer, attemptKey)
		return classified
	}

	switch st.Code() {
	case codes.Canceled:
		return errors.NewTerminalError(errors.ErrorTypeCancelled, 499, "request was cancelled", err)
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError(err)
	case codes.Unavailable:
		return errors.NewTerminalError(errors.ErrorTypeConnectivity, errors.NetworkStatusCode,
			"coordinator is not reachable", err)
	default:
		return errors.NewTerminalError(errors.ErrorTypeInternal, 500, st.Message(), err)
	}
}

func firstInt(md metadata.MD, key string) int {
	values := md.Get(key)
	if len(values) == 0 {
		return 0
	}
	n, err := strconv.Atoi(values[0])
	if err != nil {
		return 0
	}
	return n
}
