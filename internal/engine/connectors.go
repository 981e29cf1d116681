package engine

import (
	"fmt"

	"ilpsdk/internal/domain"
)

func connector(format string) ConnectorFunc {
	return func(token string) string {
		return fmt.Sprintf(format, token)
	}
}

var networks = map[string]map[domain.SettlementType]map[string]ConnectorFunc{
	"mainnet": {
		domain.Lightning: {
			"Kava 1": connector("btp+wss://:%s@ilp.kava.io/btc"),
		},
		domain.Machinomy: {
			"Kava 1": connector("btp+wss://:%s@ilp.kava.io/eth"),
		},
		domain.XrpPaychan: {
			"Kava 1": connector("btp+wss://:%s@ilp.kava.io/xrp"),
		},
	},
	"testnet": {
		domain.Lightning: {
			"Kava 3": connector("btp+wss://:%s@test.ilp.kava.io/btc"),
		},
		domain.Machinomy: {
			"Kava 3": connector("btp+wss://:%s@test.ilp.kava.io/eth"),
		},
		domain.XrpPaychan: {
			"Kava 3": connector("btp+wss://:%s@test.ilp.kava.io/xrp"),
		},
	},
	"local": {
		domain.Lightning: {
			"Local": connector("btp+ws://:%s@localhost:7441"),
		},
		domain.Machinomy: {
			"Local": connector("btp+ws://:%s@localhost:7442"),
		},
		domain.XrpPaychan: {
			"Local": connector("btp+ws://:%s@localhost:7443"),
		},
	},
}
