package auth

import (
	"crypto"
	"encoding/pem"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ParsePublicKeysPEM parses all the public keys contained
// in the given PEM data. RSA, ECDSA and Ed25519 keys are supported.
// Blocks that are not public keys are ignored.
func ParsePublicKeysPEM(data []byte) ([]crypto.PublicKey, error) {

	var keys []crypto.PublicKey

	for {

		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		if block.Type != "PUBLIC KEY" && block.Type != "RSA PUBLIC KEY" {
			continue
		}

		key, err := parsePublicKeyBlock(pem.EncodeToMemory(block))
		if err != nil {
			return nil, err
		}

		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no public key found in pem data")
	}

	return keys, nil
}

func parsePublicKeyBlock(block []byte) (crypto.PublicKey, error) {

	if k, err := jwt.ParseRSAPublicKeyFromPEM(block); err == nil {
		return k, nil
	}

	if k, err := jwt.ParseECPublicKeyFromPEM(block); err == nil {
		return k, nil
	}

	k, err := jwt.ParseEdPublicKeyFromPEM(block)
	if err != nil {
		return nil, fmt.Errorf("unable to parse public key: unsupported key type")
	}

	return k, nil
}
