package nft

import (
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// MetadataProgramID is the Metaplex Token Metadata program.
var MetadataProgramID = solanago.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// Metaplex caps these fields; anything longer is a corrupt account.
const (
	maxNameLength   = 32
	maxSymbolLength = 10
	maxURILength    = 200
)

// OnChainMetadata is the prefix of a Metaplex metadata account that the
// display projection needs.
type OnChainMetadata struct {
	UpdateAuthority solanago.PublicKey
	Mint            solanago.PublicKey
	Name            string
	Symbol          string
	URI             string
}

// MetadataAddress derives the metadata account for mint.
func MetadataAddress(mint solanago.PublicKey) (solanago.PublicKey, error) {
	pda, _, err := solanago.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			MetadataProgramID.Bytes(),
			mint.Bytes(),
		},
		MetadataProgramID,
	)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("failed to find metadata address: %w", err)
	}
	return pda, nil
}

// DecodeMetadata reads the Borsh-encoded account layout:
// key(u8) update_authority(32) mint(32) name(string) symbol(string) uri(string).
// Strings are NUL padded on chain; the padding is trimmed.
func DecodeMetadata(data []byte) (*OnChainMetadata, error) {
	dec := bin.NewBorshDecoder(data)

	if _, err := dec.ReadUint8(); err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	authority, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("read update authority: %w", err)
	}
	mint, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("read mint: %w", err)
	}

	name, err := readBorshString(dec, maxNameLength)
	if err != nil {
		return nil, fmt.Errorf("read name: %w", err)
	}
	symbol, err := readBorshString(dec, maxSymbolLength)
	if err != nil {
		return nil, fmt.Errorf("read symbol: %w", err)
	}
	uri, err := readBorshString(dec, maxURILength)
	if err != nil {
		return nil, fmt.Errorf("read uri: %w", err)
	}

	return &OnChainMetadata{
		UpdateAuthority: solanago.PublicKeyFromBytes(authority),
		Mint:            solanago.PublicKeyFromBytes(mint),
		Name:            name,
		Symbol:          symbol,
		URI:             uri,
	}, nil
}

func readBorshString(dec *bin.Decoder, limit int) (string, error) {
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return "", err
	}
	if int(n) > limit {
		return "", fmt.Errorf("length %d exceeds %d", n, limit)
	}
	raw, err := dec.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}
