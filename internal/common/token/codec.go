package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/boxchat/authd/internal/common/clock"
	commoncrypto "github.com/boxchat/authd/internal/common/crypto"
	commonerrors "github.com/boxchat/authd/internal/common/errors"
)

// ErrInvalidToken is returned for every verification failure. Callers
// must not be able to tell a bad signature from an expired token.
var ErrInvalidToken = errors.New("token is not valid")

type Claims struct {
	UserID   string
	Email    string
	Username string
	JTI      string
}

// Codec issues and verifies HMAC-signed access tokens. The secret and
// algorithm are fixed at construction; the codec holds no other state.
type Codec struct {
	secret      []byte
	method      jwt.SigningMethod
	idGenerator commoncrypto.IDGenerator
	clock       clock.Clock
	ttl         time.Duration
}

func NewCodec(
	secret string,
	algorithm string,
	idGenerator commoncrypto.IDGenerator,
	ttl time.Duration,
	clk clock.Clock,
) (*Codec, error) {
	method, err := signingMethod(algorithm)
	if err != nil {
		return nil, err
	}

	return &Codec{
		secret:      []byte(secret),
		method:      method,
		idGenerator: idGenerator,
		clock:       clk,
		ttl:         ttl,
	}, nil
}

func signingMethod(name string) (jwt.SigningMethod, error) {
	switch name {
	case "HS256", "":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, commonerrors.ErrUnsupportedAlgorithm.WithCause(errors.New(name))
	}
}

// Issue signs a self-contained access token for the given identity,
// expiring at now (UTC) + ttl.
func (c *Codec) Issue(userID, email, username string) (string, error) {
	jti, err := c.idGenerator.NewID()
	if err != nil {
		return "", err
	}

	now := c.clock.Now().UTC()
	claims := jwt.MapClaims{
		"sub": email,
		"usr": username,
		"uid": userID,
		"jti": jti,
		"iat": now.Unix(),
		"exp": now.Add(c.ttl).Unix(),
	}

	t := jwt.NewWithClaims(c.method, claims)
	return t.SignedString(c.secret)
}

// Verify checks signature, signing method and expiry, returning the
// decoded claims only when all of them hold. There is no skew
// tolerance: a token is invalid the instant its exp claim passes.
func (c *Codec) Verify(tokenString string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.clock.Now().UTC() }),
		jwt.WithExpirationRequired(),
	)

	parsed, err := parser.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	email, _ := mapClaims["sub"].(string)
	username, _ := mapClaims["usr"].(string)
	userID, _ := mapClaims["uid"].(string)
	jti, _ := mapClaims["jti"].(string)
	if email == "" || userID == "" {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		UserID:   userID,
		Email:    email,
		Username: username,
		JTI:      jti,
	}, nil
}
