// Package signing issues and verifies expiring HMAC signatures for object
// download links served by the local object store.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrMissingParams = errors.New("missing signed params")

type Signer struct {
	Secret []byte
}

type Signed struct {
	Path string
	Exp  int64
	Sig  string
}

func New(secret string) *Signer {
	return &Signer{Secret: []byte(secret)}
}

func (s *Signer) Sign(objectPath string, exp time.Time) Signed {
	return Signed{Path: objectPath, Exp: exp.Unix(), Sig: s.signValue(objectPath, exp.Unix())}
}

// Verify fails for expired or tampered signatures.
func (s *Signer) Verify(objectPath string, exp int64, sig string) bool {
	if time.Now().Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.signValue(objectPath, exp)))
}

func (s *Signer) signValue(objectPath string, exp int64) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(objectPath))
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// BuildURL appends the escaped object path to base and adds exp/sig query params.
func BuildURL(base string, signed Signed) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(signed.Path, "/"))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("exp", strconv.FormatInt(signed.Exp, 10))
	q.Set("sig", signed.Sig)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Extract reads exp and sig back out of a signed URL's query.
func Extract(query url.Values) (int64, string, error) {
	expStr := strings.TrimSpace(query.Get("exp"))
	sig := strings.TrimSpace(query.Get("sig"))
	if expStr == "" || sig == "" {
		return 0, "", ErrMissingParams
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return 0, "", err
	}
	return exp, sig, nil
}
