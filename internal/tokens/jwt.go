package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errClaimsMismatch = errors.New("token claims do not match request")

// Claims binds a capability to one (user, artifact) pair. The random jti
// makes every issued token distinct even within the same second.
type Claims struct {
	jwt.RegisteredClaims
	Artifact string `json:"art"`
}

func generateToken(userID, unique string, secretKey []byte, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Artifact: unique,
	})

	return token.SignedString(secretKey)
}

// verifyToken checks the signature and that the token was minted for
// (userID, unique). It says nothing about whether the token is still the
// registered one.
func verifyToken(tokenString, userID, unique string, secretKey []byte) error {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenSignatureInvalid
	}
	if claims.Subject != userID || claims.Artifact != unique {
		return errClaimsMismatch
	}
	return nil
}
