// Package crypto provides the signing suite used by the routing core:
// RSA-PSS signatures over SHA3-256 digests, the fixed suite this
// module pins for node identity, minus a session-encryption half this
// module has no use for.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/sha3"
)

const RSABits = 4096

func SHA3_256(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

// KDF folds a domain-separation label and arbitrary parts into one digest.
// Used to derive node ids without HMAC/HKDF; signature digests use
// SHA3_256 directly.
func KDF(label string, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(label))
	buf = append(buf, []byte(label)...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return SHA3_256(buf)
}

func GenKeypair() ([]byte, []byte, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSABits)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}
	return pubDER, privDER, nil
}

func Sign(priv []byte, digest []byte) []byte {
	sig, err := SignDigest(priv, digest)
	if err != nil {
		return nil
	}
	return sig
}

func SignDigest(priv []byte, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, errors.New("bad digest size")
	}
	key, err := ParseRSAPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return rsa.SignPSS(rand.Reader, key, crypto.SHA3_256, digest, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
}

func Verify(pub []byte, digest []byte, sig []byte) bool {
	return VerifyDigest(pub, digest, sig)
}

func VerifyDigest(pub []byte, digest []byte, sig []byte) bool {
	if len(digest) != 32 {
		return false
	}
	key, err := ParseRSAPublicKey(pub)
	if err != nil {
		return false
	}
	return rsa.VerifyPSS(key, crypto.SHA3_256, digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}) == nil
}

func ParseRSAPublicKey(pub []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not rsa public key")
	}
	return rsaKey, nil
}

func ParseRSAPrivateKey(priv []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not rsa private key")
	}
	return rsaKey, nil
}

func IsRSAPublicKey(pub []byte) bool {
	_, err := ParseRSAPublicKey(pub)
	return err == nil
}

func IsRSAPrivateKey(priv []byte) bool {
	_, err := ParseRSAPrivateKey(priv)
	return err == nil
}

func SaveKeypair(dir string, pub, priv []byte) error {
	if len(pub) == 0 || len(priv) == 0 {
		return errors.New("empty key")
	}
	if err := os.WriteFile(filepath.Join(dir, "pub.hex"), []byte(hex.EncodeToString(pub)), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "priv.hex"), []byte(hex.EncodeToString(priv)), 0600)
}

func LoadKeypair(dir string) ([]byte, []byte, error) {
	pubHex, err := os.ReadFile(filepath.Join(dir, "pub.hex"))
	if err != nil {
		return nil, nil, err
	}
	privHex, err := os.ReadFile(filepath.Join(dir, "priv.hex"))
	if err != nil {
		return nil, nil, err
	}

	pub, err := hex.DecodeString(string(pubHex))
	if err != nil {
		return nil, nil, fmt.Errorf("bad pub.hex")
	}
	priv, err := hex.DecodeString(string(privHex))
	if err != nil {
		return nil, nil, fmt.Errorf("bad priv.hex")
	}
	return pub, priv, nil
}
