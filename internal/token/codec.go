// Package token encodes and verifies the signed bearer tokens used for
// access and refresh credentials. It performs no I/O.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-token-gate/internal/model"
)

type Category string

const (
	Access  Category = "access"
	Refresh Category = "refresh"
)

// MaxTokenBytes is the largest encoded token Issue will hand out. Refresh
// tokens are stored as ledger keys of this width.
const MaxTokenBytes = 512

func (c Category) Valid() bool {
	return c == Access || c == Refresh
}

const (
	claimCategory = "category"
	claimName     = "name"
	claimSubject  = "sub"
	claimRole     = "role"
	claimIP       = "ip"
	claimTokenID  = "jti"
)

// Claims is the verified content of a token.
type Claims struct {
	Category  Category
	Name      string
	SubjectID string
	Role      string
	BoundIP   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether now is at or past the token's expiry.
func (c *Claims) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Identity converts verified claims into the identity bound to a request.
func (c *Claims) Identity() model.Identity {
	return model.Identity{
		SubjectID: c.SubjectID,
		Name:      c.Name,
		Role:      c.Role,
		TokenID:   c.TokenID,
	}
}

type Option func(*Codec)

// WithClock replaces the wall clock used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// Codec signs and verifies HS256 tokens with a single process-wide key.
type Codec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token signing secret is required")
	}

	codec := &Codec{
		secret: []byte(secret),
		now:    time.Now,
		// Expiry is reported through IsExpired rather than as a parse error.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(codec)
	}

	return codec, nil
}

// Now returns the codec's current time.
func (c *Codec) Now() time.Time {
	return c.now()
}

// Issue signs a new token. ttl is truncated to whole seconds and must be at
// least one second so that expires_at is strictly after issued_at.
func (c *Codec) Issue(category Category, subjectID string, name string, role string, boundIP string, ttl time.Duration) (string, error) {
	if !category.Valid() {
		return "", fmt.Errorf("%w: unknown token category %q", model.ErrInvalidInput, category)
	}
	if subjectID == "" {
		return "", fmt.Errorf("%w: subject id is required", model.ErrInvalidInput)
	}
	ttl = ttl.Truncate(time.Second)
	if ttl < time.Second {
		return "", fmt.Errorf("%w: token ttl must be at least one second", model.ErrInvalidInput)
	}

	issuedAt := c.now().UTC().Truncate(time.Second)
	claims := jwt.MapClaims{
		claimCategory: string(category),
		claimName:     name,
		claimSubject:  subjectID,
		claimRole:     role,
		claimIP:       boundIP,
		claimTokenID:  uuid.NewString(),
		"iat":         issuedAt.Unix(),
		"exp":         issuedAt.Add(ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	if len(signed) > MaxTokenBytes {
		return "", fmt.Errorf("%w: encoded %s token is %d bytes, limit is %d", model.ErrInvalidInput, category, len(signed), MaxTokenBytes)
	}

	return signed, nil
}

// Verify checks the signature and structure of tokenString and returns its
// claims. An authentic but expired token verifies successfully.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", model.ErrDecodeFailure)
	}

	parsed, err := c.parser.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecodeFailure, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", model.ErrDecodeFailure)
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token claims", model.ErrDecodeFailure)
	}

	return claimsFromMap(claimsMap)
}

// IsExpired verifies tokenString and reports whether it has expired.
func (c *Codec) IsExpired(tokenString string) (bool, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return false, err
	}
	return claims.IsExpired(c.now()), nil
}

func (c *Codec) Category(tokenString string) (Category, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Category, nil
}

func (c *Codec) SubjectID(tokenString string) (string, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.SubjectID, nil
}

func (c *Codec) DisplayName(tokenString string) (string, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Name, nil
}

func (c *Codec) Role(tokenString string) (string, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Role, nil
}

func (c *Codec) BoundIP(tokenString string) (string, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.BoundIP, nil
}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	category, err := stringClaim(m, claimCategory)
	if err != nil {
		return nil, err
	}
	if !Category(category).Valid() {
		return nil, fmt.Errorf("%w: unknown token category %q", model.ErrDecodeFailure, category)
	}

	claims := &Claims{Category: Category(category)}
	for key, dst := range map[string]*string{
		claimName:    &claims.Name,
		claimSubject: &claims.SubjectID,
		claimRole:    &claims.Role,
		claimIP:      &claims.BoundIP,
		claimTokenID: &claims.TokenID,
	} {
		if *dst, err = stringClaim(m, key); err != nil {
			return nil, err
		}
	}
	if claims.SubjectID == "" {
		return nil, fmt.Errorf("%w: empty subject", model.ErrDecodeFailure)
	}

	issuedAt, err := m.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return nil, fmt.Errorf("%w: missing or invalid iat", model.ErrDecodeFailure)
	}
	expiresAt, err := m.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return nil, fmt.Errorf("%w: missing or invalid exp", model.ErrDecodeFailure)
	}
	if !expiresAt.After(issuedAt.Time) {
		return nil, fmt.Errorf("%w: exp must be after iat", model.ErrDecodeFailure)
	}

	claims.IssuedAt = issuedAt.Time
	claims.ExpiresAt = expiresAt.Time

	return claims, nil
}

func stringClaim(m jwt.MapClaims, key string) (string, error) {
	raw, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: missing claim %q", model.ErrDecodeFailure, key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: claim %q is not a string", model.ErrDecodeFailure, key)
	}
	return value, nil
}
