package remote

import "encoding/json"

// Message types exchanged over the websocket streams.
const (
	TypeAuth    = "auth"
	TypeAuthAck = "auth_ack"

	// Listen stream.
	TypeAddTarget       = "add_target"
	TypeRemoveTarget    = "remove_target"
	TypeTargetChange    = "target_change"
	TypeDocumentChange  = "document_change"
	TypeDocumentDelete  = "document_delete"
	TypeDocumentRemove  = "document_remove"
	TypeExistenceFilter = "existence_filter"

	// Write stream.
	TypeWriteHandshake    = "write_handshake"
	TypeWriteHandshakeAck = "write_handshake_ack"
	TypeWrite             = "write"
	TypeWriteResult       = "write_result"

	TypeError = "error"
)

// BaseMessage is the envelope for all messages
type BaseMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload
type AuthPayload struct {
	Token string `json:"token"`
}

// AddTargetPayload (Client -> Server) registers interest in a query or a
// single document. ResumeToken lets the server skip results already seen.
type AddTargetPayload struct {
	TargetID    int32      `json:"targetId"`
	Query       wireTarget `json:"query"`
	ResumeToken []byte     `json:"resumeToken,omitempty"`
}

// RemoveTargetPayload (Client -> Server)
type RemoveTargetPayload struct {
	TargetID int32 `json:"targetId"`
}

// Target change states reported by the server.
const (
	TargetStateNoChange = "no_change"
	TargetStateAdded    = "added"
	TargetStateCurrent  = "current"
	TargetStateReset    = "reset"
	TargetStateRemoved  = "removed"
)

// TargetChangePayload (Server -> Client). Empty TargetIDs addresses every
// active target.
type TargetChangePayload struct {
	State       string         `json:"state"`
	TargetIDs   []int32        `json:"targetIds,omitempty"`
	ResumeToken []byte         `json:"resumeToken,omitempty"`
	ReadTime    *wireTimestamp `json:"readTime,omitempty"`
	Cause       *ErrorPayload  `json:"cause,omitempty"`
}

// DocumentChangePayload (Server -> Client) carries a new document revision
// and the targets it does and does not belong to.
type DocumentChangePayload struct {
	Document         wireDocument `json:"document"`
	TargetIDs        []int32      `json:"targetIds,omitempty"`
	RemovedTargetIDs []int32      `json:"removedTargetIds,omitempty"`
}

// DocumentDeletePayload (Server -> Client) reports a confirmed deletion.
type DocumentDeletePayload struct {
	Key              string         `json:"key"`
	ReadTime         *wireTimestamp `json:"readTime,omitempty"`
	RemovedTargetIDs []int32        `json:"removedTargetIds,omitempty"`
}

// DocumentRemovePayload (Server -> Client) reports that a document left the
// named targets without being deleted.
type DocumentRemovePayload struct {
	Key              string  `json:"key"`
	RemovedTargetIDs []int32 `json:"removedTargetIds,omitempty"`
}

// ExistenceFilterPayload (Server -> Client) carries the server's view of a
// target's membership so the client can detect divergence. Bloom data is
// optional; without it a count mismatch forces a re-query.
type ExistenceFilterPayload struct {
	TargetID int32            `json:"targetId"`
	Count    int              `json:"count"`
	Bloom    *wireBloomFilter `json:"bloom,omitempty"`
}

type wireBloomFilter struct {
	Bits      []byte `json:"bits"`
	Padding   int    `json:"padding"`
	HashCount int    `json:"hashCount"`
}

// WriteHandshakePayload (Client -> Server) opens the write pipeline. The
// stream token identifies the previous stream so acked-but-unreported
// writes are not replayed.
type WriteHandshakePayload struct {
	StreamToken []byte `json:"streamToken,omitempty"`
}

// WriteHandshakeAckPayload (Server -> Client)
type WriteHandshakeAckPayload struct {
	StreamToken []byte `json:"streamToken"`
}

// WritePayload (Client -> Server) carries one mutation batch.
type WritePayload struct {
	StreamToken []byte         `json:"streamToken"`
	Mutations   []wireMutation `json:"mutations"`
}

// WriteResultPayload (Server -> Client) acknowledges the oldest in-flight
// batch, in submission order.
type WriteResultPayload struct {
	StreamToken []byte            `json:"streamToken"`
	CommitTime  wireTimestamp     `json:"commitTime"`
	Results     []wireWriteResult `json:"results"`
}

type wireWriteResult struct {
	UpdateTime       *wireTimestamp `json:"updateTime,omitempty"`
	TransformResults []wireValue    `json:"transformResults,omitempty"`
}

// ErrorPayload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
