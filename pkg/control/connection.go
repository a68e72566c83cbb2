package control

import (
	"context"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

const DefaultDialTimeout = 5 * time.Second

// Dial connects to a running coordinator's control server on the loopback interface
func Dial(ctx context.Context, port int, timeout time.Duration) (*grpc.ClientConn, error) {
	if port <= 0 || port > 65535 {
		return nil, errors.NewValidationError("control port must be between 1 and 65535", nil).WithContext("port", port)
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	address := net.JoinHostPort(DefaultHost, strconv.Itoa(port))
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrorTypeConnectivity, "failed to connect to coordinator", err).
			WithContext("address", address)
	}
	return conn, nil
}
