package codec

import (
	"bytes"
	"hubrpc/message"
	"testing"
)

func sampleRequest() *message.Request {
	return &message.Request{
		ID:        "req-1",
		ClientID:  "Client-1",
		Interface: "IRemoteCall1",
		Method:    "Foo",
		Status:    message.StatusCreated,
		Args: []message.Envelope{
			{TypeID: "string", Payload: []byte(`"theName"`)},
			{TypeID: "[]remotecall.Arg1", Payload: []byte(`[{"id":"0"}]`)},
		},
	}
}

func checkRequest(t *testing.T, name string, got, want *message.Request) {
	t.Helper()
	if got.ID != want.ID || got.ClientID != want.ClientID || got.Interface != want.Interface ||
		got.Method != want.Method || got.Status != want.Status {
		t.Fatalf("%s: request header mismatch: got %+v, want %+v", name, got, want)
	}
	if len(got.Args) != len(want.Args) {
		t.Fatalf("%s: expect %d args, got %d", name, len(want.Args), len(got.Args))
	}
	for i := range want.Args {
		if got.Args[i].TypeID != want.Args[i].TypeID || !bytes.Equal(got.Args[i].Payload, want.Args[i].Payload) {
			t.Errorf("%s: arg %d mismatch: got %+v, want %+v", name, i, got.Args[i], want.Args[i])
		}
	}
}

func TestRequestCodecs(t *testing.T) {
	for _, c := range []Codec{&JSONCodec{}, &BinaryCodec{}, &GobCodec{}} {
		original := sampleRequest()
		data, err := c.Encode(original)
		if err != nil {
			t.Fatalf("%s Encode failed: %v", c.Type(), err)
		}

		var decoded message.Request
		if err := c.Decode(data, &decoded); err != nil {
			t.Fatalf("%s Decode failed: %v", c.Type(), err)
		}
		checkRequest(t, c.Type().String(), &decoded, original)
	}
}

func TestBinaryCodecResponse(t *testing.T) {
	c := &BinaryCodec{}

	cases := []*message.Response{
		{
			ID: "r", ClientID: "c", Interface: "I", Method: "M",
			Status: message.StatusProcessed,
			Result: &message.Envelope{TypeID: "int", Payload: []byte("42")},
		},
		{
			ID: "r", ClientID: "c", Interface: "I", Method: "M",
			Status: message.StatusError, Code: "UnknownMethod", Error: "unknown method",
		},
	}

	for _, original := range cases {
		data, err := c.Encode(original)
		if err != nil {
			t.Fatalf("BinaryCodec Encode failed: %v", err)
		}
		var decoded message.Response
		if err := c.Decode(data, &decoded); err != nil {
			t.Fatalf("BinaryCodec Decode failed: %v", err)
		}
		if decoded.Status != original.Status || decoded.Code != original.Code || decoded.Error != original.Error {
			t.Fatalf("response mismatch: got %+v, want %+v", decoded, original)
		}
		if (decoded.Result == nil) != (original.Result == nil) {
			t.Fatalf("result presence mismatch: got %v, want %v", decoded.Result, original.Result)
		}
		if original.Result != nil && (decoded.Result.TypeID != "int" || string(decoded.Result.Payload) != "42") {
			t.Fatalf("result mismatch: %+v", decoded.Result)
		}
	}
}

func TestBinaryCodecTruncated(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}

	var decoded message.Request
	if err := c.Decode(data[:len(data)-3], &decoded); err == nil {
		t.Fatal("expect error for truncated body")
	}
}

func TestBinaryCodecRejectsOtherTypes(t *testing.T) {
	c := &BinaryCodec{}
	if _, err := c.Encode("plain string"); err == nil {
		t.Fatal("expect BinaryCodec to reject non-message values")
	}
}

func TestParseCodecType(t *testing.T) {
	cases := map[string]CodecType{"json": CodecTypeJSON, "": CodecTypeJSON, "binary": CodecTypeBinary, "gob": CodecTypeGob}
	for name, want := range cases {
		got, err := ParseCodecType(name)
		if err != nil || got != want {
			t.Errorf("ParseCodecType(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseCodecType("xml"); err == nil {
		t.Fatal("expect error for unknown codec")
	}
	if IsPayloadCodec(CodecTypeBinary) {
		t.Fatal("binary codec cannot carry payloads")
	}
}
