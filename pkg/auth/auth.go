package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// WildcardCollection is the collection scope that authorizes writes to any
// destination collection.
const WildcardCollection = "*"

// IssueAPIKey mints a key for clientID scoped to a single destination
// collection: the key only authorizes ingestion into that collection. Pass
// WildcardCollection (or "") to mint a key that authorizes every
// collection. Format: clientID.collection.signature.
func IssueAPIKey(clientID, collection string, secret []byte) string {
	if collection == "" {
		collection = WildcardCollection
	}
	encodedSig := base64.RawURLEncoding.EncodeToString(sign(clientID, collection, secret))
	return fmt.Sprintf("%s.%s.%s", clientID, collection, encodedSig)
}

// VerifyAPIKey verifies apiKey against secret. If valid, it returns the
// client ID that issued the key and the collection scope the key
// authorizes; callers check that scope against the collection a request
// actually targets with Authorizes.
func VerifyAPIKey(apiKey string, secret []byte) (valid bool, clientID string, collection string, err error) {
	parts := strings.SplitN(apiKey, ".", 3)
	if len(parts) != 3 {
		return false, "", "", errors.New("invalid api key format")
	}

	clientID, collection, providedSig := parts[0], parts[1], parts[2]

	expectedSig := sign(clientID, collection, secret)
	expectedEncodedSig := base64.RawURLEncoding.EncodeToString(expectedSig)

	if hmac.Equal([]byte(providedSig), []byte(expectedEncodedSig)) {
		return true, clientID, collection, nil
	}

	return false, "", "", errors.New("invalid signature")
}

// Authorizes reports whether a key scoped to `scope` permits writing
// to `target`. A wildcard scope authorizes every target.
func Authorizes(scope, target string) bool {
	return scope == WildcardCollection || scope == target
}

func sign(clientID, collection string, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(clientID + "." + collection))
	return mac.Sum(nil)
}
