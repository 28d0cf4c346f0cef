// Package protocol defines the JSON frames exchanged with collaboration
// clients and the routing request/response pair.
package protocol

import (
	"encoding/json"

	"github.com/dd0wney/cluso-collab/pkg/patch"
)

// Frame types
const (
	TypeRegisterUser      = "registerUser"
	TypeApplyInstructions = "applyInstructionToGraph"
	TypePing              = "__ping__"
	TypePong              = "__pong__"
	TypeEvicted           = "evicted"
)

// Response statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Header is decoded first to dispatch a frame by type. ID is the optional
// correlation id, echoed back verbatim in the single reply.
type Header struct {
	Type string          `json:"type" validate:"required"`
	ID   json.RawMessage `json:"_id,omitempty"`
}

// HasID reports whether the frame expects a correlated reply
func (h Header) HasID() bool {
	return len(h.ID) > 0 && string(h.ID) != "null"
}

// MessageType returns the frame type; every frame embeds Header
func (h Header) MessageType() string { return h.Type }

// Response is the acknowledgment carried under "_response"
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK returns a positive acknowledgment
func OK() *Response { return &Response{Status: StatusOK} }

// Fail returns a negative acknowledgment carrying err's text
func Fail(err error) *Response { return &Response{Status: StatusError, Message: err.Error()} }

// Nack answers a frame of a type the server does not handle
type Nack struct {
	Header
	Response *Response `json:"_response"`
}

// RegisterUser joins a sheet of a graph
type RegisterUser struct {
	Header
	UserID        string `json:"userId" validate:"required,max=256"`
	Name          string `json:"name" validate:"max=256"`
	SheetID       string `json:"sheetId" validate:"required,max=256"`
	GraphKey      string `json:"graphKey" validate:"required,max=256,resourcekey"`
	FromTimestamp *int64 `json:"fromTimestamp,omitempty"`
}

// RegisterReply answers RegisterUser. MissingMessages holds history newer
// than the requested timestamp.
type RegisterReply struct {
	Header
	Response        *Response           `json:"_response"`
	MissingMessages []ApplyInstructions `json:"missingMessages,omitempty"`
}

// Instruction is one patch aimed at exactly one node or edge of the sheet
type Instruction struct {
	NodeID              string      `json:"nodeId,omitempty"`
	EdgeID              string      `json:"edgeId,omitempty"`
	I                   patch.Patch `json:"i"`
	ApplyUniqIdentifier bool        `json:"applyUniqIdentifier,omitempty"`
	TargetedIdentifier  string      `json:"targetedIdentifier,omitempty"`
	DontApplyToMySelf   bool        `json:"dontApplyToMySelf,omitempty"`
	AnimatePos          bool        `json:"animatePos,omitempty"`
	AnimateSize         bool        `json:"animateSize,omitempty"`
	NoRedraw            bool        `json:"noRedraw,omitempty"`
}

// ApplyInstructions carries an instruction batch. The same shape is used
// for the sender's reply (with Response), the fan-out to other users and
// replayed history (with AlreadyApplied and Time).
type ApplyInstructions struct {
	Header
	Instructions   []Instruction `json:"instructions" validate:"required"`
	Response       *Response     `json:"_response,omitempty"`
	AlreadyApplied bool          `json:"alreadyApplied,omitempty"`
	Time           int64         `json:"time,omitempty"`
}

// Ping and Pong are the application-level liveness pair
type Ping struct {
	Header
}

// Pong answers Ping
type Pong struct {
	Header
}

// Evicted tells a connection it was replaced by a newer registration
type Evicted struct {
	Header
	Message string `json:"message"`
}

// RouteRequest asks where to open the collaboration connection for a key
type RouteRequest struct {
	ResourceKey string `json:"resourceKey" validate:"required,max=256,resourcekey"`
	// Namespace selects the ownership map: "graph" (default) or "instance"
	Namespace string `json:"namespace,omitempty" validate:"omitempty,oneof=graph instance"`
}

// RouteResponse is the collaboration address to connect to
type RouteResponse struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ErrorResponse is the body of a failed routing request
type ErrorResponse struct {
	Error string `json:"error"`
}
