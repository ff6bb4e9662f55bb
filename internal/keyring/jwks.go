package keyring

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"sort"
)

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// JWKS renders the verification set as an RFC 7517 JSON Web Key Set. Remote
// services fetch this to validate tokens without calling back into the
// authority.
func (k *Keyring) JWKS() ([]byte, error) {
	keys := k.VerificationKeys()

	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := jwkSet{Keys: make([]jwk, 0, len(kids))}
	for _, kid := range kids {
		pub := keys[kid]
		set.Keys = append(set.Keys, jwk{
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			Kid: kid,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return json.Marshal(set)
}
