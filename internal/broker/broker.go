// Package broker obtains live rooms and access tokens from the room
// provider for a given meeting.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/meeting-notes-lab/internal/logging"
)

// ErrNoActiveRoom is returned when a participant token is requested for a
// meeting whose room has not been created.
var ErrNoActiveRoom = errors.New("no active room for meeting")

// Room describes an active media session issued by the provider.
type Room struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// RoomBroker creates rooms and issues access tokens for them.
type RoomBroker interface {
	// CreateRoom provisions a room for the meeting and returns it with a
	// host token.
	CreateRoom(ctx context.Context, meetingID string) (Room, error)
	// JoinRoom issues a participant (non-host) token for the meeting's
	// existing room. Fails with ErrNoActiveRoom if none exists.
	JoinRoom(ctx context.Context, meetingID string) (Room, error)
}

// Client talks to the room provider's HTTP API and mints the signed meeting
// tokens the transport expects. Participant tokens are cached for their
// lifetime so repeated joins of the same meeting do not re-mint.
type Client struct {
	baseURL     string
	signingKey  []byte
	tokenTTL    time.Duration
	displayName string
	httpClient  *http.Client
	tokens      *gocache.Cache
}

func NewClient(baseURL, signingKey string, tokenTTL time.Duration, displayName string) *Client {
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	// Evict a little before expiry so we never hand out a token the
	// provider would reject. Short TTLs fall back to half the lifetime;
	// a non-positive cache TTL would mean no expiration at all.
	cacheTTL := ttl - time.Minute
	if cacheTTL <= 0 {
		cacheTTL = ttl / 2
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		signingKey:  []byte(signingKey),
		tokenTTL:    ttl,
		displayName: displayName,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		tokens:      gocache.New(cacheTTL, 10*time.Minute),
	}
}

type roomResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (c *Client) CreateRoom(ctx context.Context, meetingID string) (Room, error) {
	body, _ := json.Marshal(map[string]string{"meeting_id": meetingID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return Room{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Room{}, fmt.Errorf("create room: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var rr roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return Room{}, fmt.Errorf("create room: decode: %w", err)
	}
	token, err := c.mintToken(meetingID, rr.Name, true)
	if err != nil {
		return Room{}, err
	}
	logging.Infow("room created", logging.MeetingFields(meetingID, rr.Name)...)
	return Room{Name: rr.Name, URL: rr.URL, Token: token}, nil
}

func (c *Client) JoinRoom(ctx context.Context, meetingID string) (Room, error) {
	if cached, ok := c.tokens.Get(meetingID); ok {
		if room, ok := cached.(Room); ok {
			logging.Debugw("using cached participant token", "meeting.id", meetingID)
			return room, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rooms/"+meetingID, nil)
	if err != nil {
		return Room{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("lookup room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Room{}, ErrNoActiveRoom
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Room{}, fmt.Errorf("lookup room: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var rr roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return Room{}, fmt.Errorf("lookup room: decode: %w", err)
	}
	if rr.Name == "" || rr.URL == "" {
		return Room{}, ErrNoActiveRoom
	}
	token, err := c.mintToken(meetingID, rr.Name, false)
	if err != nil {
		return Room{}, err
	}
	room := Room{Name: rr.Name, URL: rr.URL, Token: token}
	c.tokens.SetDefault(meetingID, room)
	return room, nil
}

// mintToken signs a meeting access token the transport presents when
// joining. The provider validates room, role and expiry claims.
func (c *Client) mintToken(meetingID, roomName string, host bool) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  meetingID,
		"room": roomName,
		"name": c.displayName,
		"host": host,
		"iat":  now.Unix(),
		"exp":  now.Add(c.tokenTTL).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign meeting token: %w", err)
	}
	return signed, nil
}
