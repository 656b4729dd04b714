package voice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const SignatureHeader = "X-Twilio-Signature"

// Signature is the base64 HMAC-SHA1 Twilio sends: the full callback URL
// followed by every POST param as key+value, keys sorted.
func Signature(authToken string, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature rejects callbacks whose signature does not match. The URL
// is rebuilt from the public base URL since the service usually sits behind
// a proxy. An empty auth token disables the check.
func VerifySignature(authToken string, baseURL string) func(http.Handler) http.Handler {
	authToken = strings.TrimSpace(authToken)
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")

	return func(next http.Handler) http.Handler {
		if authToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "invalid form", http.StatusBadRequest)
				return
			}
			want := Signature(authToken, baseURL+r.URL.RequestURI(), r.PostForm)
			got := r.Header.Get(SignatureHeader)
			if !hmac.Equal([]byte(want), []byte(got)) {
				zerolog.Ctx(r.Context()).Warn().Str("path", r.URL.Path).Msg("rejected callback with bad signature")
				http.Error(w, "invalid signature", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
