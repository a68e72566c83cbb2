package control

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/core-tools/site-analyzer-coordinator/pkg/bridge"
	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/gateway"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler bridge.Contract, logger logging.Logger) {
	registerBridgeServer(grpcServerRegistrar, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler bridge.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) AnalyzeWebsite(ctx context.Context, request *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var payload gateway.WebsiteAnalyzeRequest
	if err := json.Unmarshal(request.GetValue(), &payload); err != nil {
		h.logger.Warnf("AnalyzeWebsite server handler: malformed request: %v", err)
		return nil, toStatus(ctx, errors.NewTerminalError(errors.ErrorTypeValidation, 400, "malformed request", err))
	}

	response, err := h.handler.AnalyzeWebsite(ctx, payload.Domain, payload.MaxPagesToCount, payload.MaxPagesToAnalyze)
	if err != nil {
		h.logger.Errorf("AnalyzeWebsite server handler: %v", err)
		return nil, toStatus(ctx, err)
	}
	h.logger.Debugf("AnalyzeWebsite server handler done, domain: %s", payload.Domain)
	return wrapperspb.Bytes(response), nil
}

func (h *grpcServerHandler) AnalyzeSinglePage(ctx context.Context, request *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var payload gateway.SinglePageAnalyzeRequest
	if err := json.Unmarshal(request.GetValue(), &payload); err != nil {
		h.logger.Warnf("AnalyzeSinglePage server handler: malformed request: %v", err)
		return nil, toStatus(ctx, errors.NewTerminalError(errors.ErrorTypeValidation, 400, "malformed request", err))
	}

	response, err := h.handler.AnalyzeSinglePage(ctx, payload.URL)
	if err != nil {
		h.logger.Errorf("AnalyzeSinglePage server handler: %v", err)
		return nil, toStatus(ctx, err)
	}
	h.logger.Debugf("AnalyzeSinglePage server handler done, url: %s", payload.URL)
	return wrapperspb.Bytes(response), nil
}
