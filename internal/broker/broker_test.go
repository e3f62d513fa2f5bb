package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testKey = "test-signing-key"

func parseClaims(t *testing.T, token string) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		return []byte(testKey), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return claims
}

func TestCreateRoomMintsHostToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rooms" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["meeting_id"] != "m1" {
			t.Errorf("meeting_id = %q", body["meeting_id"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name": "room-m1",
			"url":  "wss://rooms.test/m1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testKey, time.Hour, "Host Person")
	room, err := c.CreateRoom(context.Background(), "m1")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.Name != "room-m1" || room.URL != "wss://rooms.test/m1" {
		t.Errorf("room = %+v", room)
	}

	claims := parseClaims(t, room.Token)
	if claims["sub"] != "m1" || claims["room"] != "room-m1" {
		t.Errorf("claims = %v", claims)
	}
	if host, _ := claims["host"].(bool); !host {
		t.Error("create room must mint a host token")
	}
	if claims["name"] != "Host Person" {
		t.Errorf("name claim = %v", claims["name"])
	}
}

func TestJoinRoomCachesParticipantToken(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/rooms/m1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name": "room-m1",
			"url":  "wss://rooms.test/m1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testKey, time.Hour, "guest")
	first, err := c.JoinRoom(context.Background(), "m1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	claims := parseClaims(t, first.Token)
	if host, _ := claims["host"].(bool); host {
		t.Error("join must mint a participant token, not a host token")
	}

	second, err := c.JoinRoom(context.Background(), "m1")
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("provider hits = %d, want 1 (cached)", hits)
	}
	if second.Token != first.Token {
		t.Error("cached join should return the same token")
	}
}

func TestShortTokenTTLStillExpiresCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name": "room-m1",
			"url":  "wss://rooms.test/m1",
		})
	}))
	defer srv.Close()

	// TTLs under a minute must still expire cached tokens rather than
	// caching them forever
	c := NewClient(srv.URL, testKey, 200*time.Millisecond, "guest")
	if _, err := c.JoinRoom(context.Background(), "m1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	if _, err := c.JoinRoom(context.Background(), "m1"); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("provider hits = %d, want 2 after the cached token expired", got)
	}
}

func TestJoinRoomWithoutActiveRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testKey, time.Hour, "guest")
	_, err := c.JoinRoom(context.Background(), "m1")
	if !errors.Is(err, ErrNoActiveRoom) {
		t.Fatalf("err = %v, want ErrNoActiveRoom", err)
	}
}
