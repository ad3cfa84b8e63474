package strmproxy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/Zzackllack/AniBridge-sub000/internal/apperr"
	"github.com/Zzackllack/AniBridge-sub000/internal/config"
)

// canonicalParams builds a deterministic, sorted-by-key query string for
// signing, matching _canonical_params.
func canonicalParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	return values.Encode()
}

// SignParams computes the hex HMAC-SHA256 signature of the canonicalized
// params under secret.
func SignParams(params map[string]string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonicalParams(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator validates and builds STRM proxy auth parameters per the
// configured mode (none/apikey/token), matching auth.py's require_auth and
// build_auth_params exactly.
type Authenticator struct {
	mode         config.StrmProxyAuthMode
	secret       string
	tokenTTLSecs int
	now          func() time.Time
}

// NewAuthenticator constructs an Authenticator for the given mode/secret.
func NewAuthenticator(mode config.StrmProxyAuthMode, secret string, tokenTTLSecs int) *Authenticator {
	return &Authenticator{mode: mode, secret: secret, tokenTTLSecs: tokenTTLSecs, now: time.Now}
}

// BuildAuthParams returns the query parameters a caller must append to a
// proxy URL to satisfy the configured auth mode.
func (a *Authenticator) BuildAuthParams(params map[string]string) (map[string]string, error) {
	switch a.mode {
	case config.StrmProxyAuthNone, "":
		return map[string]string{}, nil
	case config.StrmProxyAuthAPIKey:
		if a.secret == "" {
			return nil, apperr.New(apperr.KindConfigFatal, "STRM proxy auth misconfigured")
		}
		return map[string]string{"apikey": a.secret}, nil
	case config.StrmProxyAuthToken:
		if a.secret == "" {
			return nil, apperr.New(apperr.KindConfigFatal, "STRM proxy auth misconfigured")
		}
		payload := map[string]string{}
		for k, v := range params {
			payload[k] = v
		}
		exp := a.now().Unix() + int64(a.tokenTTLSecs)
		payload["exp"] = strconv.FormatInt(exp, 10)
		sig := SignParams(payload, a.secret)
		return map[string]string{"sig": sig, "exp": payload["exp"]}, nil
	default:
		return nil, fmt.Errorf("unknown strm proxy auth mode: %s", a.mode)
	}
}

// RequireAuth validates incoming request params against the configured
// auth mode, returning an apperr.KindAuth error on any failure.
func (a *Authenticator) RequireAuth(params map[string]string) error {
	switch a.mode {
	case config.StrmProxyAuthNone, "":
		return nil
	case config.StrmProxyAuthAPIKey:
		if a.secret == "" {
			return apperr.New(apperr.KindConfigFatal, "STRM proxy auth misconfigured")
		}
		if params["apikey"] != a.secret {
			return apperr.New(apperr.KindAuth, "invalid apikey")
		}
		return nil
	case config.StrmProxyAuthToken:
		if a.secret == "" {
			return apperr.New(apperr.KindConfigFatal, "STRM proxy auth misconfigured")
		}
		sig := params["sig"]
		if sig == "" {
			return apperr.New(apperr.KindAuth, "missing signature")
		}
		payload := map[string]string{}
		for k, v := range params {
			if k != "sig" {
				payload[k] = v
			}
		}
		if expRaw, ok := payload["exp"]; ok && expRaw != "" {
			exp, err := strconv.ParseInt(expRaw, 10, 64)
			if err != nil {
				return apperr.New(apperr.KindAuth, "invalid token expiry")
			}
			if a.now().Unix() > exp {
				return apperr.New(apperr.KindAuth, "token expired")
			}
		}
		expected := SignParams(payload, a.secret)
		if !hmac.Equal([]byte(sig), []byte(expected)) {
			return apperr.New(apperr.KindAuth, "invalid signature")
		}
		return nil
	default:
		return fmt.Errorf("unknown strm proxy auth mode: %s", a.mode)
	}
}

// paramsFromQuery flattens net/url.Values into a single-value map, taking
// the first value of each key.
func paramsFromQuery(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
