package credential

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"math/big"
	"strings"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/ripemd160"
)

const (
	rippleAlphabet  = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"
	bitcoinAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

	familySeedVersion = 0x21
	accountIDVersion  = 0x00
)

var (
	toBitcoin = strings.NewReplacer(pairs(rippleAlphabet, bitcoinAlphabet)...)
	toRipple  = strings.NewReplacer(pairs(bitcoinAlphabet, rippleAlphabet)...)
)

func pairs(from, to string) []string {
	out := make([]string, 0, 2*len(from))
	for i := range from {
		out = append(out, from[i:i+1], to[i:i+1])
	}
	return out
}

// XrpCredential is an XRP ledger account derived from a family seed.
type XrpCredential struct {
	config  XrpConfig
	key     *ecdsa.PrivateKey
	address string
	conn    *websocket.Conn
}

func (c *XrpCredential) SettlementType() domain.SettlementType { return domain.XrpPaychan }
func (c *XrpCredential) UniqueID() string                      { return c.address }
func (c *XrpCredential) Config() Config                        { return c.config }
func (c *XrpCredential) Address() string                       { return c.address }
func (c *XrpCredential) PrivateKey() *ecdsa.PrivateKey         { return c.key }

// Conn is nil when no rippled server is configured.
func (c *XrpCredential) Conn() *websocket.Conn {
	return c.conn
}

func (c *XrpCredential) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func setupXrp(ctx context.Context, cfg XrpConfig, dial XrpDialer) (*XrpCredential, error) {
	address, key, err := XrpAddress(cfg.Secret)
	if err != nil {
		return nil, err
	}

	c := &XrpCredential{config: cfg, key: key, address: address}
	if dial != nil {
		conn, err := dial(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not connect to rippled")
		}
		c.conn = conn
	}
	return c, nil
}

// XrpAddress derives the classic address and account key of a secp256k1
// family seed.
func XrpAddress(secret string) (string, *ecdsa.PrivateKey, error) {
	decoded, version, err := base58.CheckDecode(toBitcoin.Replace(strings.TrimSpace(secret)))
	if err != nil || version != familySeedVersion || len(decoded) != 16 {
		return "", nil, errors.Wrap(errors.ErrInvalidSecret, "invalid xrp secret")
	}

	key, err := deriveAccountKey(decoded)
	if err != nil {
		return "", nil, errors.Wrap(errors.ErrInvalidSecret, err.Error())
	}

	pub := crypto.CompressPubkey(&key.PublicKey)
	sha := sha256.Sum256(pub)
	h := ripemd160.New()
	h.Write(sha[:])
	accountID := h.Sum(nil)

	return toRipple.Replace(base58.CheckEncode(accountID, accountIDVersion)), key, nil
}

func deriveAccountKey(seed []byte) (*ecdsa.PrivateKey, error) {
	order := crypto.S256().Params().N

	rootScalar := deriveScalar(seed, nil, order)
	root, err := crypto.ToECDSA(scalarBytes(rootScalar))
	if err != nil {
		return nil, err
	}

	var accountIndex uint32
	tweak := deriveScalar(crypto.CompressPubkey(&root.PublicKey), &accountIndex, order)

	account := new(big.Int).Add(rootScalar, tweak)
	account.Mod(account, order)
	return crypto.ToECDSA(scalarBytes(account))
}

// deriveScalar hashes data with an incrementing counter until the first half
// of the SHA-512 digest is a valid secp256k1 scalar.
func deriveScalar(data []byte, discriminator *uint32, order *big.Int) *big.Int {
	var buf [4]byte
	for seq := uint32(0); ; seq++ {
		h := sha512.New()
		h.Write(data)
		if discriminator != nil {
			binary.BigEndian.PutUint32(buf[:], *discriminator)
			h.Write(buf[:])
		}
		binary.BigEndian.PutUint32(buf[:], seq)
		h.Write(buf[:])

		k := new(big.Int).SetBytes(h.Sum(nil)[:32])
		if k.Sign() > 0 && k.Cmp(order) < 0 {
			return k
		}
	}
}

func scalarBytes(k *big.Int) []byte {
	out := make([]byte, 32)
	k.FillBytes(out)
	return out
}
