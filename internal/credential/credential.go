// Package credential validates backend secrets into ready credentials and
// keeps at most one live credential per physical account.
package credential

import (
	"encoding/json"
	"fmt"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/validator"
)

// Config is an unvalidated backend secret.
type Config interface {
	SettlementType() domain.SettlementType
}

// Ready is a validated credential with its live connection handles.
type Ready interface {
	SettlementType() domain.SettlementType
	// UniqueID identifies the underlying account (pubkey or address).
	UniqueID() string
	Config() Config
	Close() error
}

type LndConfig struct {
	Hostname string `json:"hostname" validate:"required"`
	GrpcPort int    `json:"grpc_port" validate:"omitempty,gt=0,lt=65536"`
	// TLSCert is the node's PEM certificate, optionally base64 encoded.
	TLSCert string `json:"tls_cert" validate:"required"`
	// Macaroon is the hex encoded admin macaroon.
	Macaroon string `json:"macaroon" validate:"required,hexadecimal"`
}

func (LndConfig) SettlementType() domain.SettlementType { return domain.Lightning }

type EthereumConfig struct {
	PrivateKey string `json:"private_key" validate:"required,hexkey"`
}

func (EthereumConfig) SettlementType() domain.SettlementType { return domain.Machinomy }

type XrpConfig struct {
	Secret string `json:"secret" validate:"required"`
}

func (XrpConfig) SettlementType() domain.SettlementType { return domain.XrpPaychan }

var configValidator = validator.New()

// DecodeConfig parses a persisted credential config for a settlement type.
func DecodeConfig(t domain.SettlementType, raw json.RawMessage) (Config, error) {
	var (
		cfg Config
		err error
	)
	switch t {
	case domain.Lightning:
		var c LndConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case domain.Machinomy:
		var c EthereumConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case domain.XrpPaychan:
		var c XrpConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	default:
		return nil, errors.Wrap(errors.ErrUnknownSettlementType, string(t))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidStateDocument, fmt.Sprintf("%s credential: %v", t, err))
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if err := configValidator.Validate(cfg); err != nil {
		return errors.Wrap(errors.ErrInvalidSecret, err.Error())
	}
	return nil
}
