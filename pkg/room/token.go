// Package room talks to the real-time room service: admin-side room
// creation over its Twirp HTTP API and minting of participant access
// tokens. Media, signaling, and audio pipelines stay entirely inside the
// room service; this package only grants entry.
package room

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VideoGrant is the room-service permission block embedded in an access
// token under the "video" claim.
type VideoGrant struct {
	Room           string `json:"room,omitempty"`
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	RoomCreate     bool   `json:"roomCreate,omitempty"`
	RoomAdmin      bool   `json:"roomAdmin,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
}

type tokenClaims struct {
	jwt.RegisteredClaims

	Video VideoGrant `json:"video"`
	Name  string     `json:"name,omitempty"`
}

// MintAccessToken signs a participant token for joining room as identity.
// The token allows publishing and subscribing to media plus the data
// channel used for in-call RPC.
func MintAccessToken(apiKey, apiSecret, roomName, identity string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" {
		return "", fmt.Errorf("room api key and secret are required")
	}
	if strings.TrimSpace(roomName) == "" {
		return "", fmt.Errorf("room name is required")
	}
	if strings.TrimSpace(identity) == "" {
		return "", fmt.Errorf("participant identity is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	yes := true
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Video: VideoGrant{
			Room:           roomName,
			RoomJoin:       true,
			CanPublish:     &yes,
			CanSubscribe:   &yes,
			CanPublishData: &yes,
		},
		Name: identity,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(apiSecret))
}

// mintAdminToken signs a short-lived token authorizing room management
// calls against the Twirp API.
func mintAdminToken(apiKey, apiSecret string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiKey,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		},
		Video: VideoGrant{
			RoomCreate: true,
			RoomAdmin:  true,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(apiSecret))
}
