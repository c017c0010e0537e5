// Package protocol defines the WebSocket message types and structures used for
// communication between the client and the Bondly gateway. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeFindPartner  = "find_partner"
	TypeCancelSearch = "cancel_search"
	TypeMessage      = "message"
	TypeLeave        = "leave"
	TypeNext         = "next"
	TypeBlock        = "block"
	TypeUnblock      = "unblock"
	TypeBlockedList  = "blocked_list"
	TypeRate         = "rate"
	TypeStats        = "stats"
	TypeSetProfile   = "set_profile"
	TypeDeleteMe     = "delete_me"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeSearching         = "searching"
	TypeMatchFound        = "match_found"
	TypePartnerMessage    = "partner_message"
	TypeSessionEnded      = "session_ended"
	TypeSearchEvicted     = "search_evicted"
	TypeBlockedListResult = "blocked_list_result"
	TypeUnblocked         = "unblocked"
	TypeStatsResult       = "stats_result"
	TypeProfileUpdated    = "profile_updated"
	TypeRateLimited       = "rate_limited"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// FindPartnerMsg is sent by the client to enter the waiting pool.
type FindPartnerMsg struct {
	Type string `json:"type"`
}

// CancelSearchMsg is sent by the client to leave the waiting pool.
type CancelSearchMsg struct {
	Type string `json:"type"`
}

// ChatMsg is a message sent by the client within an active session. Media
// messages carry a content kind (photo, video, voice, sticker) instead of text.
type ChatMsg struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Media string `json:"media,omitempty"` // "photo", "video", "voice", "sticker"
}

// IsMedia reports whether the message carries media content rather than text.
func (m ChatMsg) IsMedia() bool { return m.Media != "" }

// LeaveMsg is sent by the client to end the current session.
type LeaveMsg struct {
	Type string `json:"type"`
}

// NextMsg is sent by the client to end the current session and immediately
// search for a new partner.
type NextMsg struct {
	Type string `json:"type"`
}

// BlockMsg is sent by the client to block the current or most recent partner.
type BlockMsg struct {
	Type string `json:"type"`
}

// UnblockMsg is sent by the client to remove a user from its blocked list.
type UnblockMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// BlockedListMsg is sent by the client to request its blocked list.
type BlockedListMsg struct {
	Type string `json:"type"`
}

// RateMsg is sent by the client to rate the most recent partner.
type RateMsg struct {
	Type     string `json:"type"`
	Positive bool   `json:"positive"`
}

// StatsMsg is sent by the client to request its own usage statistics.
type StatsMsg struct {
	Type string `json:"type"`
}

// SetProfileMsg is sent by the client to update profile fields. Empty fields
// are left unchanged.
type SetProfileMsg struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Filter   string `json:"filter,omitempty"`
}

// DeleteMeMsg is sent by the client to delete its account and all stored data.
type DeleteMeMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SearchingMsg confirms the client has entered the waiting pool.
type SearchingMsg struct {
	Type    string `json:"type"`
	Timeout int    `json:"timeout"` // seconds until eviction
}

// MatchFoundMsg is sent when a compatible partner has been found.
type MatchFoundMsg struct {
	Type            string `json:"type"`
	SessionID       uint64 `json:"session_id"`
	PartnerNickname string `json:"partner_nickname"`
	PartnerGender   string `json:"partner_gender"`
	Score           int    `json:"score"`
}

// PartnerMessageMsg relays a partner's message to the client.
type PartnerMessageMsg struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Media string `json:"media,omitempty"`
	Ts    int64  `json:"ts"`
}

// SessionEndedMsg is sent when the session has ended, for any reason.
type SessionEndedMsg struct {
	Type     string `json:"type"`
	Reason   string `json:"reason"` // "left", "next", "blocked", "inactive", ...
	Duration int64  `json:"duration_seconds"`
	Messages int64  `json:"messages"`
}

// SearchEvictedMsg is sent when the waiting pool timed out without a match.
type SearchEvictedMsg struct {
	Type string `json:"type"`
}

// BlockedEntry is one row of a BlockedListResultMsg.
type BlockedEntry struct {
	UserID    int64  `json:"user_id"`
	Nickname  string `json:"nickname"`
	BlockedAt int64  `json:"blocked_at"`
}

// BlockedListResultMsg carries the client's current blocked list.
type BlockedListResultMsg struct {
	Type    string         `json:"type"`
	Blocked []BlockedEntry `json:"blocked"`
}

// UnblockedMsg confirms that a user was removed from the blocked list.
type UnblockedMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// StatsResultMsg carries the client's usage statistics.
type StatsResultMsg struct {
	Type          string `json:"type"`
	ChatsStarted  int64  `json:"chats_started"`
	ChatsToday    int64  `json:"chats_today"`
	MessagesSent  int64  `json:"messages_sent"`
	MediaSent     int64  `json:"media_sent"`
	TotalDuration int64  `json:"total_chat_duration"`
	RatingUp      int64  `json:"ratings_positive"`
	RatingDown    int64  `json:"ratings_negative"`
}

// ProfileUpdatedMsg confirms a profile change and echoes the current profile.
type ProfileUpdatedMsg struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
	Gender   string `json:"gender"`
	Filter   string `json:"filter"`
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// Error codes carried by ErrorMsg.
const (
	CodeAlreadySearching = "already_searching"
	CodeAlreadyInSession = "already_in_session"
	CodeNotSearching     = "not_searching"
	CodeNoActiveSession  = "no_active_session"
	CodeInvalidProfile   = "invalid_profile"
	CodeInternal         = "internal"
)

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeFindPartner:
		var m FindPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelSearch:
		var m CancelSearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeave:
		var m LeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNext:
		var m NextMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeBlock:
		var m BlockMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUnblock:
		var m UnblockMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeBlockedList:
		var m BlockedListMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRate:
		var m RateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStats:
		var m StatsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetProfile:
		var m SetProfileMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDeleteMe:
		var m DeleteMeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
