package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func parseToken(t *testing.T, signed, secret string) *tokenClaims {
	t.Helper()
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("token not valid")
	}
	return claims
}

func TestMintAccessToken(t *testing.T) {
	signed, err := MintAccessToken("key1", "secret1", "consulta-erp", "cliente", time.Hour)
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	claims := parseToken(t, signed, "secret1")
	if claims.Issuer != "key1" {
		t.Errorf("iss = %q, want key1", claims.Issuer)
	}
	if claims.Subject != "cliente" {
		t.Errorf("sub = %q, want cliente", claims.Subject)
	}
	if claims.Video.Room != "consulta-erp" || !claims.Video.RoomJoin {
		t.Errorf("video grant = %+v", claims.Video)
	}
	if claims.Video.CanPublish == nil || !*claims.Video.CanPublish {
		t.Error("canPublish not granted")
	}
	if claims.Video.CanPublishData == nil || !*claims.Video.CanPublishData {
		t.Error("canPublishData not granted")
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Hour+time.Minute {
		t.Errorf("exp = %v", claims.ExpiresAt)
	}
}

func TestMintAccessTokenValidation(t *testing.T) {
	cases := []struct {
		name                           string
		apiKey, secret, room, identity string
	}{
		{"missing key", "", "s", "r", "i"},
		{"missing secret", "k", "", "r", "i"},
		{"missing room", "k", "s", "", "i"},
		{"missing identity", "k", "s", "r", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := MintAccessToken(tc.apiKey, tc.secret, tc.room, tc.identity, time.Hour); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCreateRoom(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/twirp/livekit.RoomService/CreateRoom" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"sid":"RM_abc","name":"consulta-erp"}`))
	}))
	defer ts.Close()

	c := NewClient(ClientConfig{
		BaseURL:         ts.URL,
		APIKey:          "key1",
		APISecret:       "secret1",
		EmptyTimeout:    10 * time.Minute,
		MaxParticipants: 2,
	})
	room, err := c.CreateRoom(context.Background(), "consulta-erp")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.SID != "RM_abc" || room.Name != "consulta-erp" {
		t.Fatalf("room = %+v", room)
	}
	if gotBody["empty_timeout"] != float64(600) {
		t.Errorf("empty_timeout = %v, want 600", gotBody["empty_timeout"])
	}
	if gotBody["max_participants"] != float64(2) {
		t.Errorf("max_participants = %v, want 2", gotBody["max_participants"])
	}

	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("authorization = %q", gotAuth)
	}
	claims := parseToken(t, strings.TrimPrefix(gotAuth, "Bearer "), "secret1")
	if !claims.Video.RoomCreate {
		t.Error("admin token missing roomCreate grant")
	}
}

func TestCreateRoomRejectedCredentials(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := NewClient(ClientConfig{BaseURL: ts.URL, APIKey: "k", APISecret: "s"})
	if _, err := c.CreateRoom(context.Background(), "r"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateRoomEmptyName(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://localhost:7880", APIKey: "k", APISecret: "s"})
	if _, err := c.CreateRoom(context.Background(), "  "); err == nil {
		t.Fatal("expected error")
	}
}
