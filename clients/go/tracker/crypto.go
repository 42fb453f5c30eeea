package tracker

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Sealed text layout, base64 encoded on the wire:
//
//	version[1] | ephemeral X25519 key[32] | nonce[12] | ciphertext | tag[16]
//
// The AEAD additional data names the sending and receiving peer IDs, so a
// sealed text only opens in the mailbox it was addressed to and only under
// the sender it claims.
const (
	sealVersion byte = 1
	sealLabel        = "tracker-seal-v1"

	headerSize = 1 + curve25519.PointSize + chacha20poly1305.NonceSize
	minSealed  = headerSize + chacha20poly1305.Overhead
)

var (
	// ErrInvalidKey is returned for a pubkey that is not a base64 Ed25519 key.
	ErrInvalidKey = errors.New("seal: invalid peer public key")
	// ErrMalformed is returned for text that is not in the sealed layout.
	ErrMalformed = errors.New("seal: malformed sealed text")
	// ErrUnsealable is returned when authentication fails: wrong key, wrong
	// sender or recipient, or tampering.
	ErrUnsealable = errors.New("seal: cannot open message")
)

// Seal encrypts text from peer from to the key announced by to.
func Seal(to Peer, from, text string) (string, error) {
	recipient, err := montgomeryPublic(to.PubKey)
	if err != nil {
		return "", err
	}

	ephemeral := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephemeral); err != nil {
		return "", err
	}
	ephemeralPub, err := curve25519.X25519(ephemeral, curve25519.Basepoint)
	if err != nil {
		return "", err
	}
	shared, err := curve25519.X25519(ephemeral, recipient)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	aead, err := sealCipher(shared, ephemeralPub, recipient)
	if err != nil {
		return "", err
	}

	out := make([]byte, headerSize, headerSize+len(text)+aead.Overhead())
	out[0] = sealVersion
	copy(out[1:], ephemeralPub)
	nonce := out[1+curve25519.PointSize : headerSize]
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out = aead.Seal(out, nonce, []byte(text), routeData(from, to.PeerID))

	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts m as received by peer to holding priv.
func Open(m Message, to string, priv ed25519.PrivateKey) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Text)
	if err != nil || len(raw) < minSealed || raw[0] != sealVersion {
		return "", ErrMalformed
	}
	if len(priv) != ed25519.PrivateKeySize {
		return "", ErrInvalidKey
	}

	scalar := montgomeryPrivate(priv)
	own, err := montgomeryFromEdwards(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return "", err
	}

	ephemeralPub := raw[1 : 1+curve25519.PointSize]
	nonce := raw[1+curve25519.PointSize : headerSize]

	shared, err := curve25519.X25519(scalar, ephemeralPub)
	if err != nil {
		return "", ErrUnsealable
	}
	aead, err := sealCipher(shared, ephemeralPub, own)
	if err != nil {
		return "", err
	}

	text, err := aead.Open(nil, nonce, raw[headerSize:], routeData(m.From, to))
	if err != nil {
		return "", ErrUnsealable
	}
	return string(text), nil
}

// sealCipher keys ChaCha20-Poly1305 with HKDF-SHA256 over the ECDH secret,
// salted with both public halves.
func sealCipher(shared, ephemeralPub, recipient []byte) (cipher.AEAD, error) {
	salt := append(append(make([]byte, 0, 2*curve25519.PointSize), ephemeralPub...), recipient...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(sealLabel)), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

// routeData is the additional data: label, then length-prefixed sender and
// recipient peer IDs.
func routeData(from, to string) []byte {
	b := make([]byte, 0, len(sealLabel)+8+len(from)+len(to))
	b = append(b, sealLabel...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(from)))
	b = append(b, from...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(to)))
	return append(b, to...)
}

// montgomeryPublic decodes an announced pubkey into its X25519 form.
func montgomeryPublic(pubB64 string) ([]byte, error) {
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, ErrInvalidKey
	}
	return montgomeryFromEdwards(pub)
}

func montgomeryFromEdwards(pub ed25519.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return p.BytesMontgomery(), nil
}

// montgomeryPrivate derives the X25519 scalar matching priv's public key:
// the clamped low half of SHA-512(seed), as Ed25519 itself uses.
func montgomeryPrivate(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:curve25519.ScalarSize]
}
