package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// TestHeaderCorrelation tests detection of the optional _id
func TestHeaderCorrelation(t *testing.T) {
	tests := []struct {
		frame string
		want  bool
	}{
		{`{"type":"__ping__"}`, false},
		{`{"type":"__ping__","_id":null}`, false},
		{`{"type":"__ping__","_id":7}`, true},
		{`{"type":"__ping__","_id":"abc"}`, true},
	}
	for _, tt := range tests {
		var h Header
		if err := json.Unmarshal([]byte(tt.frame), &h); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.frame, err)
		}
		if h.HasID() != tt.want {
			t.Errorf("%s: expected HasID %v", tt.frame, tt.want)
		}
	}
}

// TestReplyEchoesID tests that the correlation id survives verbatim
func TestReplyEchoesID(t *testing.T) {
	var req RegisterUser
	_ = json.Unmarshal([]byte(`{"type":"registerUser","_id":42,"userId":"u1","sheetId":"s1","graphKey":"g1"}`), &req)

	out, err := json.Marshal(RegisterReply{Header: req.Header, Response: OK()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"_id":42`) {
		t.Errorf("Expected _id 42 in %s", out)
	}
	if !strings.Contains(string(out), `"_response":{"status":"ok"}`) {
		t.Errorf("Expected ok response in %s", out)
	}
}

// TestBroadcastOmitsID tests the fan-out form of a batch
func TestBroadcastOmitsID(t *testing.T) {
	msg := ApplyInstructions{
		Header:       Header{Type: TypeApplyInstructions},
		Instructions: []Instruction{{NodeID: "n1"}},
	}
	out, _ := json.Marshal(msg)
	if strings.Contains(string(out), "_id") || strings.Contains(string(out), "_response") {
		t.Errorf("Expected no _id or _response, got %s", out)
	}
}

// TestRegisterValidation tests struct tag validation of registrations
func TestRegisterValidation(t *testing.T) {
	valid := RegisterUser{Header: Header{Type: TypeRegisterUser}, UserID: "u1", SheetID: "s1", GraphKey: "g1"}
	if err := validation.Struct(&valid); err != nil {
		t.Fatalf("Expected valid registration, got %v", err)
	}

	missing := valid
	missing.SheetID = ""
	if err := validation.Struct(&missing); err == nil || !strings.Contains(err.Error(), "sheetId") {
		t.Errorf("Expected sheetId error, got %v", err)
	}

	bad := valid
	bad.GraphKey = "../etc"
	if err := validation.Struct(&bad); err == nil {
		t.Error("Expected graphKey character error")
	}
}

// TestFail tests negative acknowledgments
func TestFail(t *testing.T) {
	r := Fail(errors.New("node n2 not found"))
	if r.Status != StatusError || r.Message != "node n2 not found" {
		t.Errorf("Unexpected response %+v", r)
	}
}
