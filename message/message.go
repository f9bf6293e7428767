// Package message defines the data exchanged between the client facade and
// the server.
//
// Every argument and every result travels as an Envelope: a type identifier
// plus the serializer's output for the original value. The receiving side
// resolves TypeID in its own type registry before touching Payload.
//
//	Request  ──► {ID, ClientID, Interface, Method, Args: []Envelope}
//	Response ◄── {ID, ClientID, Interface, Method, Status, Result: *Envelope}
package message

// Status is the processing state carried by requests and responses.
type Status int

const (
	StatusNone      Status = 0
	StatusError     Status = 1
	StatusCreated   Status = 2 // set by the caller on every new Request
	StatusProcessed Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusError:
		return "Error"
	case StatusCreated:
		return "Created"
	case StatusProcessed:
		return "Processed"
	default:
		return "None"
	}
}

// Envelope is a type-tagged serialized value.
type Envelope struct {
	TypeID  string `json:"typeId"`  // resolvable through a contract.Registry
	Payload []byte `json:"payload"` // opaque serializer output
}

// Request is one remote call.
//
//   - ID is unique per call, generated by the caller. The server treats it as opaque.
//   - ClientID is stable for the caller's session and keys per-session state.
type Request struct {
	ID        string     `json:"id"`
	ClientID  string     `json:"clientId"`
	Interface string     `json:"interfaceName"`
	Method    string     `json:"methodName"`
	Args      []Envelope `json:"args"`
	Status    Status     `json:"status"`
}

// Response answers a two-way Request. One-way requests get no Response.
//
// Result is nil for methods without a result. When Status is StatusError,
// Code names the failure kind (see rpcerr.Code) and Error carries the message.
type Response struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	Interface string    `json:"interfaceName"`
	Method    string    `json:"methodName"`
	Status    Status    `json:"status"`
	Result    *Envelope `json:"result,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ReplyTo builds the skeleton of a Response for req.
func ReplyTo(req *Request, status Status) *Response {
	return &Response{
		ID:        req.ID,
		ClientID:  req.ClientID,
		Interface: req.Interface,
		Method:    req.Method,
		Status:    status,
	}
}
