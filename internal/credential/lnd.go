package credential

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

const defaultLndGrpcPort = 10009

// LndCredential is a connected lnd node, identified by its identity pubkey.
type LndCredential struct {
	config         LndConfig
	client         lnrpc.LightningClient
	conn           io.Closer
	identityPubkey string
}

func (c *LndCredential) SettlementType() domain.SettlementType { return domain.Lightning }
func (c *LndCredential) UniqueID() string                      { return c.identityPubkey }
func (c *LndCredential) Config() Config                        { return c.config }

// Client returns the RPC client. Calls must go through Context.
func (c *LndCredential) Client() lnrpc.LightningClient {
	return c.client
}

// Context attaches the macaroon to an outgoing call.
func (c *LndCredential) Context(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "macaroon", c.config.Macaroon)
}

func (c *LndCredential) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func setupLnd(ctx context.Context, cfg LndConfig, dial LndDialer) (*LndCredential, error) {
	if dial == nil {
		dial = DialLnd
	}
	client, conn, err := dial(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to lightning node")
	}

	c := &LndCredential{config: cfg, client: client, conn: conn}
	info, err := client.GetInfo(c.Context(ctx), &lnrpc.GetInfoRequest{})
	if err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "could not get node info")
	}
	if info.IdentityPubkey == "" {
		_ = c.Close()
		return nil, errors.Wrap(errors.ErrInvalidSecret, "node reported no identity pubkey")
	}
	c.identityPubkey = info.IdentityPubkey
	return c, nil
}

// DialLnd connects over TLS using the certificate in the config.
func DialLnd(_ context.Context, cfg LndConfig) (lnrpc.LightningClient, io.Closer, error) {
	pool, err := certPool(cfg.TLSCert)
	if err != nil {
		return nil, nil, err
	}
	creds := credentials.NewClientTLSFromCert(pool, "")

	port := cfg.GrpcPort
	if port == 0 {
		port = defaultLndGrpcPort
	}
	target := net.JoinHostPort(cfg.Hostname, strconv.Itoa(port))

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to lightning node: %w", err)
	}
	return lnrpc.NewLightningClient(conn), conn, nil
}

func certPool(cert string) (*x509.CertPool, error) {
	pem := []byte(cert)
	if !strings.Contains(cert, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cert))
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalidSecret, "tls cert is neither PEM nor base64")
		}
		pem = decoded
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Wrap(errors.ErrInvalidSecret, "could not parse tls cert")
	}
	return pool, nil
}
