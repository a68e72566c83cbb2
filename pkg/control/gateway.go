package control

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/core-tools/site-analyzer-coordinator/pkg/bridge"
	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/gateway"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

// NewGRPCClientGateway gives a display surface the Bridge contract over a gRPC connection
func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) bridge.Contract {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) AnalyzeWebsite(ctx context.Context, domain string, maxPagesToCount, maxPagesToAnalyze *int) (json.RawMessage, error) {
	return gw.invoke(ctx, analyzeWebsiteMethod, gateway.WebsiteAnalyzeRequest{
		Domain:            domain,
		MaxPagesToCount:   maxPagesToCount,
		MaxPagesToAnalyze: maxPagesToAnalyze,
	})
}

func (gw *grpcClientGateway) AnalyzeSinglePage(ctx context.Context, url string) (json.RawMessage, error) {
	return gw.invoke(ctx, analyzeSinglePageMethod, gateway.SinglePageAnalyzeRequest{URL: url})
}

func (gw *grpcClientGateway) invoke(ctx context.Context, method string, request interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, errors.NewTerminalError(errors.ErrorTypeInternal, 500, "failed to encode request", err)
	}

	response := new(wrapperspb.BytesValue)
	var trailer metadata.MD
	if err := gw.conn.Invoke(ctx, method, wrapperspb.Bytes(payload), response, grpc.Trailer(&trailer)); err != nil {
		classified := fromStatus(err, trailer)
		gw.logger.Errorf("%s client gateway: %v", method, classified)
		return nil, classified
	}
	gw.logger.Debugf("%s client gateway done", method)
	return json.RawMessage(response.GetValue()), nil
}
