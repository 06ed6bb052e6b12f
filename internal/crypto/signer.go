package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Tx(uint8 txType,bytes32 infoHash)
	txTypeHash = ethcrypto.Keccak256(
		[]byte("Tx(uint8 txType,bytes32 infoHash)"),
	)
)

const (
	domainName    = "PerpTx"
	domainVersion = "1"
)

// Signer signs venue transactions with a secp256k1 key. Each tx is bound to
// the chain id through an EIP-712 domain separator.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the venue chain id.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = buildDomainSeparator(domainName, domainVersion, chainID)
	return s, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain id the signer binds signatures to.
func (s *Signer) ChainID() int {
	return s.chainID
}

// SignTx signs the canonical JSON info of a venue tx and returns a
// 0x-prefixed 65-byte signature.
func (s *Signer) SignTx(txType uint8, info []byte) (string, error) {
	digest := eip712Hash(s.domainSep, txStructHash(txType, info))
	return s.signDigest(digest)
}

// RecoverTxSigner returns the address that produced sig over (txType, info)
// on chainID.
func RecoverTxSigner(chainID int, txType uint8, info []byte, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d", len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}

	digest := eip712Hash(buildDomainSeparator(domainName, domainVersion, chainID), txStructHash(txType, info))
	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func txStructHash(txType uint8, info []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			txTypeHash,
			bigIntTo32Bytes(big.NewInt(int64(txType))),
			ethcrypto.Keccak256(info),
		),
	)
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest and returns r || s || v with v in {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
