package domain

// DefaultGuideID is the guide assumed when the caller does not pick one.
const DefaultGuideID = "abhi"

// Session is the persisted per-caller conversation context. The agent only
// ever reads and updates it; sessions are created lazily and expire via TTL.
type Session struct {
	PK           string
	SK           string
	SessionID    string
	ThreadID     string
	GuideID      string
	LastActivity string
	TTL          int64
}

// SessionUpdate carries a partial update for a session record. Nil fields are
// left untouched.
type SessionUpdate struct {
	ThreadID     *string
	GuideID      *string
	LastActivity *string
}

// Turn is a single completed question/answer exchange persisted for history.
// Timestamp is derived from the sort key on read.
type Turn struct {
	PK        string
	SK        string
	SessionID string
	Question  string
	Answer    string
	Source    string
	Timestamp string
	TTL       int64
}
