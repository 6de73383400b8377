// Package wire defines the JSON frame format exchanged between the
// collaboration client and server, and the closed set of action tags
// the connection dispatches on.
package wire

import "encoding/json"

// Action is the wire frame's "a" field, a short tag identifying the
// frame kind.
type Action string

const (
	ActionInit        Action = "init"
	ActionFetch       Action = "f"
	ActionSubscribe   Action = "s"
	ActionUnsubscribe Action = "u"
	ActionOp          Action = "op"
	ActionBulkFetch   Action = "bf"
	ActionBulkSub     Action = "bs"
	ActionBulkUnsub   Action = "bu"
	ActionQueryFetch  Action = "qf"
	ActionQuerySub    Action = "qs"
	ActionQueryUnsub  Action = "qu"
	ActionQueryUpdate Action = "q"
)

// ErrorInfo is the error sub-record carried by any frame.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Frame is the generic inbound/outbound wire record. Only the fields
// relevant to the frame's action are populated; all others are the
// zero value and omitted on encode.
type Frame struct {
	Action Action `json:"a"`

	// init
	Protocol int    `json:"protocol,omitempty"`
	Type     string `json:"type,omitempty"`
	ID       string `json:"id,omitempty"`

	// doc-addressed frames (f/s/u/op/bf/bs/bu)
	Collection string `json:"c,omitempty"`
	Doc        string `json:"d,omitempty"`
	Version    *int   `json:"v,omitempty"`

	// op
	Src    string          `json:"src,omitempty"`
	Seq    int             `json:"seq,omitempty"`
	Op     json.RawMessage `json:"op,omitempty"`
	Create json.RawMessage `json:"create,omitempty"`
	Del    bool            `json:"del,omitempty"`

	// bulk (b is either []string or map[string]int depending on group)
	Bulk json.RawMessage `json:"b,omitempty"`

	// query frames (qf/qs/qu/q) — QueryID reuses the wire's "id" field,
	// which init frames use for the string client id. The two never
	// appear on the same frame, but since Go's encoding/json silently
	// drops fields that collide on tag name, Frame implements
	// MarshalJSON/UnmarshalJSON below to multiplex "id" by Action
	// instead of giving QueryID its own Go-level json tag.
	QueryID int             `json:"-"`
	Query   json.RawMessage `json:"q,omitempty"`
	Diff    json.RawMessage `json:"diff,omitempty"`
	Extra   json.RawMessage `json:"extra,omitempty"`

	// generic reply payload for single-doc and query replies
	Data json.RawMessage `json:"data,omitempty"`

	Error *ErrorInfo `json:"error,omitempty"`
}

// isQueryAction reports whether a's "id" field is a numeric query id
// rather than init's string client id.
func isQueryAction(a Action) bool {
	switch a {
	case ActionQueryFetch, ActionQuerySub, ActionQueryUnsub, ActionQueryUpdate:
		return true
	default:
		return false
	}
}

// wireFrame mirrors Frame field-for-field except "id", which is
// resolved by action before marshaling/after unmarshaling.
type wireFrame struct {
	Action     Action          `json:"a"`
	Protocol   int             `json:"protocol,omitempty"`
	Type       string          `json:"type,omitempty"`
	ID         json.RawMessage `json:"id,omitempty"`
	Collection string          `json:"c,omitempty"`
	Doc        string          `json:"d,omitempty"`
	Version    *int            `json:"v,omitempty"`
	Src        string          `json:"src,omitempty"`
	Seq        int             `json:"seq,omitempty"`
	Op         json.RawMessage `json:"op,omitempty"`
	Create     json.RawMessage `json:"create,omitempty"`
	Del        bool            `json:"del,omitempty"`
	Bulk       json.RawMessage `json:"b,omitempty"`
	Query      json.RawMessage `json:"q,omitempty"`
	Diff       json.RawMessage `json:"diff,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      *ErrorInfo      `json:"error,omitempty"`
}

// MarshalJSON multiplexes the "id" field: query actions encode
// QueryID, everything else encodes the string client ID.
func (f Frame) MarshalJSON() ([]byte, error) {
	w := wireFrame{
		Action: f.Action, Protocol: f.Protocol, Type: f.Type,
		Collection: f.Collection, Doc: f.Doc, Version: f.Version,
		Src: f.Src, Seq: f.Seq, Op: f.Op, Create: f.Create, Del: f.Del,
		Bulk: f.Bulk, Query: f.Query, Diff: f.Diff, Extra: f.Extra,
		Data: f.Data, Error: f.Error,
	}
	if isQueryAction(f.Action) {
		if id, err := json.Marshal(f.QueryID); err == nil {
			w.ID = id
		}
	} else if f.ID != "" {
		if id, err := json.Marshal(f.ID); err == nil {
			w.ID = id
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON is MarshalJSON's inverse.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = Frame{
		Action: w.Action, Protocol: w.Protocol, Type: w.Type,
		Collection: w.Collection, Doc: w.Doc, Version: w.Version,
		Src: w.Src, Seq: w.Seq, Op: w.Op, Create: w.Create, Del: w.Del,
		Bulk: w.Bulk, Query: w.Query, Diff: w.Diff, Extra: w.Extra,
		Data: w.Data, Error: w.Error,
	}
	if len(w.ID) == 0 {
		return nil
	}
	if isQueryAction(w.Action) {
		return json.Unmarshal(w.ID, &f.QueryID)
	}
	return json.Unmarshal(w.ID, &f.ID)
}

// Decode parses a raw inbound message into a Frame.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(raw, &f)
	return f, err
}

// Encode serializes a Frame for transmission.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// IntVersion returns a pointer to v, for populating Frame.Version.
func IntVersion(v int) *int {
	return &v
}
