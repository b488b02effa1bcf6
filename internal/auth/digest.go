// Package auth implements HTTP digest authentication (RFC 7616, MD5 with
// qop=auth) against a single shared user name and password.
//
// Challenge issuance, nonce tracking and response verification are handled
// by go-http-auth; this package binds it to credentials that can change at
// runtime and rejects nonce counts of zero.
package auth

import (
	"net/http"
	"strconv"
	"sync"

	httpauth "github.com/abbot/go-http-auth"
	"github.com/google/uuid"
)

// DefaultRealm is the realm advertised in challenges.
const DefaultRealm = "pulsegen"

// FailedMessage is the body of a challenge response.
const FailedMessage = "Authentication failed!"

const (
	defaultMaxNonces      = 64
	defaultNonceTolerance = 16
)

// Digest issues challenges and verifies digest credentials.
//
// Nonces live in a bounded cache; once it overflows the least recently used
// nonces are purged. A nonce count must increase on every use of a nonce.
type Digest struct {
	realm string
	da    *httpauth.DigestAuth

	// mu serialises Check so the secret callback sees the credentials of
	// the call in progress.
	mu   sync.Mutex
	user string
	pass string
}

// NewDigest creates a verifier for realm.
func NewDigest(realm string) *Digest {
	if realm == "" {
		realm = DefaultRealm
	}
	d := &Digest{realm: realm}

	da := httpauth.NewDigestAuthenticator(realm, d.secret)
	da.Opaque = uuid.NewString()
	da.ClientCacheSize = defaultMaxNonces
	da.ClientCacheTolerance = defaultNonceTolerance
	da.Headers = &httpauth.Headers{
		Authenticate:      "WWW-Authenticate",
		Authorization:     "Authorization",
		AuthInfo:          "Authentication-Info",
		UnauthCode:        http.StatusUnauthorized,
		UnauthContentType: "text/plain; charset=utf-8",
		UnauthResponse:    FailedMessage + "\n",
	}
	d.da = da
	return d
}

// Realm returns the advertised realm.
func (d *Digest) Realm() string {
	return d.realm
}

// Challenge writes a 401 response carrying a fresh nonce.
func (d *Digest) Challenge(w http.ResponseWriter, r *http.Request) {
	d.da.RequireAuth(w, r)
}

// Check reports whether r carries valid digest credentials for user and
// pass.
func (d *Digest) Check(r *http.Request, user, pass string) bool {
	params := httpauth.DigestAuthParams(r.Header.Get("Authorization"))
	if params == nil || params["username"] != user || params["realm"] != d.realm {
		return false
	}
	if nc, err := strconv.ParseUint(params["nc"], 16, 64); err != nil || nc == 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.user, d.pass = user, pass

	name, _ := d.da.CheckAuth(r)
	return name != "" && name == user
}

// secret returns HA1 for the credentials of the Check in progress. Unknown
// users get a random secret so no response can match.
func (d *Digest) secret(user, realm string) string {
	if user != d.user {
		return httpauth.H(uuid.NewString())
	}
	return httpauth.H(user + ":" + realm + ":" + d.pass)
}
