package service

// Session control actions carried by SessionControl.
const (
	ActionLeave      = "leave"
	ActionNext       = "next"
	ActionBlock      = "block"
	ActionUnblock    = "unblock"
	ActionRate       = "rate"
	ActionDelete     = "delete"
	ActionDisconnect = "disconnect" // published by gateways on connection loss
)

// Search statuses carried by PairStatus.
const (
	StatusSearching = "searching"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
	StatusUnblocked = "unblocked"
)

// PairRequest is the NATS payload sent by a gateway when a user starts
// searching for a partner.
type PairRequest struct {
	UserID       int64  `json:"user_id"`
	NicknameHint string `json:"nickname_hint,omitempty"` // seeds auto-registration
}

// PairCancel is the NATS payload sent by a gateway when a user cancels.
type PairCancel struct {
	UserID int64 `json:"user_id"`
}

// SessionSend is the NATS payload for a chat message inside a session.
// Media messages carry a content kind instead of text.
type SessionSend struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text,omitempty"`
	Media  string `json:"media,omitempty"`
}

// SessionControl is the NATS payload for leave/next/block/unblock/rate/delete.
type SessionControl struct {
	UserID   int64  `json:"user_id"`
	Action   string `json:"action"`
	Positive bool   `json:"positive,omitempty"`  // only for "rate"
	TargetID int64  `json:"target_id,omitempty"` // only for "unblock"
}

// PairFound is published to each matched user.
type PairFound struct {
	SessionID       uint64 `json:"session_id"`
	PartnerNickname string `json:"partner_nickname"`
	PartnerGender   string `json:"partner_gender"`
	Score           int    `json:"score"`
}

// PairStatus is published to a user after a search request, cancel, or
// blocked-list change.
type PairStatus struct {
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`      // error code when rejected
	Timeout  int    `json:"timeout,omitempty"`   // seconds until eviction when searching
	TargetID int64  `json:"target_id,omitempty"` // unblocked user when status is "unblocked"
}

// SessionRelay is published to a user when their partner sends a message.
type SessionRelay struct {
	Text  string `json:"text,omitempty"`
	Media string `json:"media,omitempty"`
	Ts    int64  `json:"ts"`
}

// SessionEnded is published to both participants when a session ends.
type SessionEnded struct {
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds"`
	Messages        int64  `json:"messages"` // messages the recipient sent
}

// WaitingEvicted is published to a user whose search timed out.
type WaitingEvicted struct {
	WaitedSeconds int64 `json:"waited_seconds"`
}
