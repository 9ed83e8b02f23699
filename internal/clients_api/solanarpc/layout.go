package solanarpc

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
)

type tokenAccount struct {
	mint   solana.PublicKey
	owner  solana.PublicKey
	amount uint64
}

// parseTokenAccount decodes the base SPL token account layout:
// mint [0:32], owner [32:64], amount little endian [64:72].
// Token-2022 accounts with extensions carry the account type at byte 165.
func parseTokenAccount(data []byte) (tokenAccount, bool) {
	if len(data) < tokenAccountSize {
		return tokenAccount{}, false
	}
	if len(data) > tokenAccountSize && data[tokenAccountSize] != accountTypeToken {
		return tokenAccount{}, false
	}
	return tokenAccount{
		mint:   solana.PublicKeyFromBytes(data[0:32]),
		owner:  solana.PublicKeyFromBytes(data[32:64]),
		amount: binary.LittleEndian.Uint64(data[64:72]),
	}, true
}

// parseMintDecimals reads the decimals byte of a mint account.
func parseMintDecimals(data []byte) (uint8, error) {
	if len(data) < mintAccountSize {
		return 0, errors.Newf("mint data too short: %d bytes", len(data))
	}
	return data[44], nil
}
