package domain

type CallID string

// ActiveCall is the single call this client is currently part of.
// At most one exists process-wide; the registry owns it.
type ActiveCall struct {
	CallID   CallID `json:"callId"`
	PeerID   UserID `json:"peerId"`
	IsCaller bool   `json:"isCaller"`
}

// CallInvite is an inbound ring that has not been answered yet.
// Ephemeral: cleared on accept, reject or a matching hangup.
type CallInvite struct {
	CallID       CallID `json:"callId"`
	FromUserID   UserID `json:"fromUserId"`
	ToUserID     UserID `json:"toUserId"`
	FromUsername string `json:"fromUsername"`
}

// Signaling events as the peer sends them. Wire shapes mirror the
// outbound payloads with fromUserId replacing toUserId.

type Offer struct {
	CallID     CallID `json:"callId"`
	FromUserID UserID `json:"fromUserId"`
	SDP        string `json:"sdp"`
}

type Answer struct {
	CallID     CallID `json:"callId"`
	FromUserID UserID `json:"fromUserId"`
	SDP        string `json:"sdp"`
}

// IceCandidate carries one trickled ICE candidate. A candidate with an
// empty Candidate string means "end of candidates" and is skipped.
type IceCandidate struct {
	CallID        CallID  `json:"callId"`
	FromUserID    UserID  `json:"fromUserId"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

type Hangup struct {
	CallID     CallID `json:"callId"`
	FromUserID UserID `json:"fromUserId"`
}

type CallAccepted struct {
	CallID     CallID `json:"callId"`
	AccepterID UserID `json:"accepterId"`
}

type CallRejected struct {
	CallID     CallID `json:"callId"`
	RejecterID UserID `json:"rejecterId"`
}
