package message

import (
	"encoding/json"
	"testing"
)

func TestRequestJSON(t *testing.T) {
	req := &Request{
		ID:        "r-1",
		ClientID:  "c-1",
		Interface: "IRemoteCall1",
		Method:    "Echo",
		Args:      []Envelope{{TypeID: "string", Payload: []byte(`"hi"`)}},
		Status:    StatusCreated,
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	var req2 Request
	if err := json.Unmarshal(data, &req2); err != nil {
		t.Fatalf("Failed to unmarshal with error: %v", err)
	}

	if req2.Interface != req.Interface || req2.Method != req.Method || req2.Status != StatusCreated {
		t.Fatalf("decoded request mismatch: %+v", req2)
	}
	if len(req2.Args) != 1 || req2.Args[0].TypeID != "string" || string(req2.Args[0].Payload) != `"hi"` {
		t.Fatalf("decoded args mismatch: %+v", req2.Args)
	}
}

func TestReplyTo(t *testing.T) {
	req := &Request{ID: "r-2", ClientID: "c-2", Interface: "I", Method: "M"}
	resp := ReplyTo(req, StatusProcessed)

	if resp.ID != req.ID || resp.ClientID != req.ClientID || resp.Interface != "I" || resp.Method != "M" {
		t.Fatalf("reply does not mirror request: %+v", resp)
	}
	if resp.Status.String() != "Processed" {
		t.Fatalf("expect Processed, got %s", resp.Status)
	}
	if resp.Result != nil {
		t.Fatal("expect nil result on a fresh reply")
	}
}
