package realtime

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const joinAudience = "board-join"

var ErrJoinDenied = errors.New("join token rejected")

type joinClaims struct {
	BoardID uint `json:"board_id"`
	jwt.RegisteredClaims
}

// JoinTokens issues and checks per-board subscription tokens. A token is
// handed out with an authorized board fetch and is only valid for that
// board's room.
type JoinTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJoinTokens(secret string, ttl time.Duration) *JoinTokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JoinTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (j *JoinTokens) Issue(boardID, userID uint) (string, error) {
	now := j.now()
	claims := joinClaims{
		BoardID: boardID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Audience:  jwt.ClaimStrings{joinAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign join token: %w", err)
	}
	return token, nil
}

func (j *JoinTokens) Verify(token string, boardID uint) error {
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrJoinDenied)
	}

	var claims joinClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(joinAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJoinDenied, err)
	}
	if claims.BoardID != boardID {
		return fmt.Errorf("%w: token is for another board", ErrJoinDenied)
	}
	return nil
}
