package codec

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

var ErrFieldTooWide = errors.New("field value does not fit a block")

var kdfInfo = []byte("kessen/attribute-codec/v1")

func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	var priv PrivateKey

	_, err := io.ReadFull(rand.Reader, priv[:])
	if err != nil {
		return priv, PublicKey{}, fmt.Errorf("failed to generate private key: %w", err)
	}

	pub, err := priv.PublicKey()

	return priv, pub, err
}

func (k PrivateKey) PublicKey() (PublicKey, error) {
	var pub PublicKey

	b, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("failed to derive public key: %w", err)
	}

	copy(pub[:], b)

	return pub, nil
}

func NewNonce() (Nonce, error) {
	var n Nonce

	_, err := io.ReadFull(rand.Reader, n[:])
	if err != nil {
		return n, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return n, nil
}

// DeriveSharedSecret runs X25519 between privateKey and peer and stretches the
// result with HKDF-SHA3-256. Both sides of the exchange get the same secret.
func DeriveSharedSecret(privateKey PrivateKey, peer PublicKey) (SharedSecret, error) {
	var secret SharedSecret

	shared, err := curve25519.X25519(privateKey[:], peer[:])
	if err != nil {
		return secret, fmt.Errorf("failed to run key exchange: %w", err)
	}

	_, err = io.ReadFull(hkdf.New(sha3.New256, shared, nil, kdfInfo), secret[:])
	if err != nil {
		return secret, fmt.Errorf("failed to expand shared secret: %w", err)
	}

	return secret, nil
}

// EncryptFields encrypts each field into its own block. Block i is XORed with
// the keystream at counter i, so any block decrypts on its own given the
// secret, the nonce and its position.
func EncryptFields(secret SharedSecret, nonce Nonce, fields []uint64) ([]EncryptedBlock, error) {
	blocks := make([]EncryptedBlock, len(fields))

	for idx, value := range fields {
		var plain EncryptedBlock

		binary.LittleEndian.PutUint64(plain[:8], value)

		err := xorBlock(secret, nonce, uint32(idx), &plain, &blocks[idx]) //nolint:gosec
		if err != nil {
			return nil, err
		}
	}

	return blocks, nil
}

func DecryptFields(secret SharedSecret, nonce Nonce, blocks []EncryptedBlock) ([]uint64, error) {
	fields := make([]uint64, len(blocks))

	for idx := range blocks {
		var plain EncryptedBlock

		err := xorBlock(secret, nonce, uint32(idx), &blocks[idx], &plain) //nolint:gosec
		if err != nil {
			return nil, err
		}

		for _, b := range plain[8:] {
			if b != 0 {
				return nil, fmt.Errorf("%w: field %d", ErrFieldTooWide, idx)
			}
		}

		fields[idx] = binary.LittleEndian.Uint64(plain[:8])
	}

	return fields, nil
}

func EncryptFighter(
	secret SharedSecret,
	nonce Nonce,
	stats FighterStats,
	strategy Strategy) (EncryptedStats, EncryptedStrategy, error) {
	blocks, err := EncryptFields(secret, nonce, []uint64{
		uint64(stats.Attack),
		uint64(stats.Defense),
		uint64(stats.Speed),
		uint64(stats.SpecialMove),
		uint64(strategy.Stance),
		uint64(strategy.TargetStat),
		uint64(strategy.Combo1),
		uint64(strategy.Combo2),
		uint64(strategy.Combo3),
	})
	if err != nil {
		return EncryptedStats{}, EncryptedStrategy{}, err
	}

	encryptedStats := EncryptedStats{
		Attack:      blocks[FieldAttack],
		Defense:     blocks[FieldDefense],
		Speed:       blocks[FieldSpeed],
		SpecialMove: blocks[FieldSpecialMove],
	}

	encryptedStrategy := EncryptedStrategy{
		Stance:     blocks[FieldStance],
		TargetStat: blocks[FieldTargetStat],
		Combo1:     blocks[FieldCombo1],
		Combo2:     blocks[FieldCombo2],
		Combo3:     blocks[FieldCombo3],
	}

	return encryptedStats, encryptedStrategy, nil
}

func DecryptFighter(
	secret SharedSecret,
	nonce Nonce,
	stats EncryptedStats,
	strategy EncryptedStrategy) (FighterStats, Strategy, error) {
	fields, err := DecryptFields(secret, nonce, Blocks(stats, strategy))
	if err != nil {
		return FighterStats{}, Strategy{}, err
	}

	//nolint:gosec // Values were encoded from these widths
	decodedStats := FighterStats{
		Attack:      uint16(fields[FieldAttack]),
		Defense:     uint16(fields[FieldDefense]),
		Speed:       uint16(fields[FieldSpeed]),
		SpecialMove: uint8(fields[FieldSpecialMove]),
	}

	//nolint:gosec
	decodedStrategy := Strategy{
		Stance:     uint8(fields[FieldStance]),
		TargetStat: uint8(fields[FieldTargetStat]),
		Combo1:     uint8(fields[FieldCombo1]),
		Combo2:     uint8(fields[FieldCombo2]),
		Combo3:     uint8(fields[FieldCombo3]),
	}

	return decodedStats, decodedStrategy, nil
}

func xorBlock(secret SharedSecret, nonce Nonce, counter uint32, src, dst *EncryptedBlock) error {
	var xnonce [chacha20.NonceSizeX]byte

	copy(xnonce[:], nonce[:])

	cipher, err := chacha20.NewUnauthenticatedCipher(secret[:], xnonce[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	cipher.SetCounter(counter)
	cipher.XORKeyStream(dst[:], src[:])

	return nil
}
