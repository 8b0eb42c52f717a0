package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"aldar.app/internal/apperr"
)

const bearer = "Bearer "

// Messages returned to clients for bearer token failures.
const (
	MsgHeaderError       = "Invalid/Expired Auth Token."
	MsgMissing           = "JWT authorization missing"
	MsgSignatureMismatch = "JWT SIGNATURE MISMATCH"
	MsgInvalidJWT        = "Unauthorized JWT Token"
)

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Claims issued by the mobile backend. Only session_token matters here.
type Claims struct {
	SessionToken string `json:"session_token,omitempty"`
	Company      string `json:"company,omitempty"`
	jwt.RegisteredClaims
}

// Decoder validates bearer JWTs with the shared secret. The signing method is
// taken from the token header, restricted to the HMAC family.
type Decoder struct {
	secret  []byte
	company string
}

func NewDecoder(secret, company string) *Decoder {
	return &Decoder{secret: []byte(secret), company: company}
}

// Decode parses the Authorization header value. Failures are 401 apperr.Errors
// carrying the client message. The company claim is always overwritten.
func (d *Decoder) Decode(header string) (*Claims, error) {
	token, err := extractBearerToken(header)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return d.secret, nil
	}, jwt.WithValidMethods(hmacMethods))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, apperr.Unauthorized(MsgSignatureMismatch)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, apperr.Unauthorized(MsgHeaderError)
		default:
			return nil, apperr.Unauthorized(err.Error())
		}
	}
	claims.Company = d.company
	return claims, nil
}

// Issue signs a token for sessionToken. Used by the smoke client and tests.
func (d *Decoder) Issue(sessionToken string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		SessionToken: sessionToken,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperr.Unauthorized(MsgMissing)
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", apperr.Unauthorized(MsgHeaderError)
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", apperr.Unauthorized(MsgHeaderError)
	}
	return token, nil
}
