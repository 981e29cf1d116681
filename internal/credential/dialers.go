package credential

import (
	"context"
	"io"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/lnrpc"
)

// LndDialer opens a gRPC connection to an lnd node.
type LndDialer func(ctx context.Context, cfg LndConfig) (lnrpc.LightningClient, io.Closer, error)

// EthereumDialer opens a JSON-RPC client. A nil client means no RPC endpoint
// is configured and the credential carries only its key.
type EthereumDialer func(ctx context.Context) (*ethclient.Client, error)

// XrpDialer opens a websocket to a rippled server. A nil connection means no
// server is configured.
type XrpDialer func(ctx context.Context) (*websocket.Conn, error)

type Dialers struct {
	Lnd      LndDialer
	Ethereum EthereumDialer
	Xrp      XrpDialer
}

// DefaultDialers connects to real backends. Empty URLs disable the
// corresponding network client.
func DefaultDialers(ethereumRPC, xrpServer string) Dialers {
	return Dialers{
		Lnd: DialLnd,
		Ethereum: func(ctx context.Context) (*ethclient.Client, error) {
			if ethereumRPC == "" {
				return nil, nil
			}
			return ethclient.DialContext(ctx, ethereumRPC)
		},
		Xrp: func(ctx context.Context) (*websocket.Conn, error) {
			if xrpServer == "" {
				return nil, nil
			}
			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, xrpServer, nil)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			return conn, err
		},
	}
}
