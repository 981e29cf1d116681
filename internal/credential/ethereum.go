package credential

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthereumCredential is an account key, identified by its checksummed address.
type EthereumCredential struct {
	config  EthereumConfig
	key     *ecdsa.PrivateKey
	address common.Address
	client  *ethclient.Client
}

func (c *EthereumCredential) SettlementType() domain.SettlementType { return domain.Machinomy }
func (c *EthereumCredential) UniqueID() string                      { return c.address.Hex() }
func (c *EthereumCredential) Config() Config                        { return c.config }
func (c *EthereumCredential) Address() common.Address               { return c.address }
func (c *EthereumCredential) PrivateKey() *ecdsa.PrivateKey         { return c.key }

// Client is nil when no RPC endpoint is configured.
func (c *EthereumCredential) Client() *ethclient.Client {
	return c.client
}

func (c *EthereumCredential) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// EthereumAddress derives the checksummed address for a hex private key.
func EthereumAddress(privateKey string) (common.Address, *ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	if err != nil {
		return common.Address{}, nil, errors.Wrap(errors.ErrInvalidSecret, "invalid ethereum private key")
	}
	return crypto.PubkeyToAddress(key.PublicKey), key, nil
}

func setupEthereum(ctx context.Context, cfg EthereumConfig, dial EthereumDialer) (*EthereumCredential, error) {
	address, key, err := EthereumAddress(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	c := &EthereumCredential{config: cfg, key: key, address: address}
	if dial != nil {
		client, err := dial(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not connect to ethereum node")
		}
		c.client = client
	}
	return c, nil
}
