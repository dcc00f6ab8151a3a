package transportdata

import (
	"testing"

	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/servicemap"
)

func testServiceMap(t *testing.T) *servicemap.ServiceMap {
	t.Helper()
	sm, err := servicemap.Build(servicemap.ServiceProto{
		Services: []servicemap.Service{
			{ID: 1, Name: "Test", Kind: servicemap.KindAPI, Side: servicemap.SideServer},
			{ID: 2, Name: "a/b/c/Test", Kind: servicemap.KindAPI, Side: servicemap.SideServer},
			{ID: 3, Name: "Chat", Kind: servicemap.KindMsg, Side: servicemap.SideBoth},
		},
	}, servicemap.SideServer)
	if err != nil {
		t.Fatalf("build servicemap: %v", err)
	}
	return sm
}

func TestBinaryRoundTripReq(t *testing.T) {
	sm := testServiceMap(t)
	d := NewReq("Test", 42, []byte(`{"name":"Req1"}`))

	encoded, err := EncodeBinary(sm, d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeBinary(sm, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.ServiceName != d.ServiceName || decoded.Sn != d.Sn || string(decoded.Body) != string(d.Body) {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, d)
	}
}

func TestBinaryRoundTripMsgHasNoSn(t *testing.T) {
	sm := testServiceMap(t)
	d := NewMsg("Chat", []byte(`"hi"`))

	encoded, err := EncodeBinary(sm, d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeBinary(sm, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Sn != 0 {
		t.Fatalf("expected msg to carry no sn, got %d", decoded.Sn)
	}
	if decoded.ServiceName != "Chat" {
		t.Fatalf("expected ServiceName Chat, got %q", decoded.ServiceName)
	}
}

func TestBinaryRoundTripErr(t *testing.T) {
	sm := testServiceMap(t)
	d := NewErr(7, errs.NewApiError("boom", "CODE_X", "info"))

	encoded, err := EncodeBinary(sm, d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeBinary(sm, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Sn != 7 || decoded.Err == nil || decoded.Err.Message != "boom" || decoded.Err.Code != "CODE_X" {
		t.Fatalf("round trip mismatch: got %+v", decoded)
	}
}

func TestBinaryUnknownServiceNameFails(t *testing.T) {
	sm := testServiceMap(t)
	_, err := EncodeBinary(sm, NewReq("DoesNotExist", 1, nil))
	if err == nil {
		t.Fatal("expected error for unknown service name")
	}
}

func TestTextRoundTrip(t *testing.T) {
	d := NewReq("a/b/c/Test", 9, []byte(`{"name":"Req2"}`))
	encoded, err := EncodeText(d, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeText(encoded, DecodeTextOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ServiceName != d.ServiceName || decoded.Sn != d.Sn || string(decoded.Body) != string(d.Body) {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, d)
	}
}

func TestTextSkipSNEmitsBodyAlone(t *testing.T) {
	d := NewReq("Test", 1, []byte(`{"name":"Req1"}`))
	encoded, err := EncodeText(d, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(encoded) != `{"name":"Req1"}` {
		t.Fatalf("expected bare body, got %s", encoded)
	}

	decoded, err := DecodeText(encoded, DecodeTextOptions{SkipSN: true, Kind: KindReq, ServiceName: "Test", Sn: 1})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ServiceName != "Test" || decoded.Sn != 1 || string(decoded.Body) != string(d.Body) {
		t.Fatalf("round trip mismatch: got %+v", decoded)
	}
}
