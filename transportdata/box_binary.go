package transportdata

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/servicemap"
)

// EncodeBinary produces the compact length-prefixed binary box described in
// spec.md §4.2:
//
//	[serviceId: varuint][type-tag: u8][sn?: varuint][payload: bytes]
//
// sn is omitted for msg, heartbeat and handshake frames. Body is expected
// to already be schema-encoded bytes (produced upstream by the Validator);
// this layer only frames it. err frames carry the TsrpcError JSON-encoded
// in place of a schema-validated payload, since an error is not itself a
// schema-bound value.
func EncodeBinary(sm *servicemap.ServiceMap, d *TransportData) ([]byte, error) {
	var serviceID uint32
	if d.ServiceName != "" {
		svc, ok := sm.GetByName(d.ServiceName)
		if !ok {
			return nil, errs.Remote("Invalid service name")
		}
		serviceID = svc.ID
	}

	var payload []byte
	switch d.Kind {
	case KindErr:
		enc, err := json.Marshal(d.Err)
		if err != nil {
			return nil, errs.Local("failed to encode error: " + err.Error())
		}
		payload = enc
	case KindReq, KindRes, KindMsg, KindCustom:
		payload = d.Body
	}

	buf := &bytes.Buffer{}
	varintBuf := make([]byte, binary.MaxVarintLen64)

	n := binary.PutUvarint(varintBuf, uint64(serviceID))
	buf.Write(varintBuf[:n])
	buf.WriteByte(byte(d.Kind))

	if hasSN(d.Kind) {
		n = binary.PutUvarint(varintBuf, uint64(d.Sn))
		buf.Write(varintBuf[:n])
	}

	buf.Write(payload)
	return buf.Bytes(), nil
}

// DecodeBinary inverts EncodeBinary, consulting sm.GetByID for the schema
// name (spec.md §4.2).
func DecodeBinary(sm *servicemap.ServiceMap, data []byte) (*TransportData, error) {
	r := bytes.NewReader(data)

	serviceID, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errs.Remote("Invalid frame: truncated service id")
	}

	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, errs.Remote("Invalid frame: truncated type tag")
	}
	kind := Kind(kindByte)

	d := &TransportData{Kind: kind}

	if kind == KindReq || kind == KindRes || kind == KindMsg {
		svc, ok := sm.GetByID(uint32(serviceID))
		if !ok {
			return nil, errs.Remote("Invalid service name")
		}
		d.ServiceName = svc.Name
	}

	if hasSN(kind) {
		sn, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, errs.Remote("Invalid frame: truncated sn")
		}
		d.Sn = uint32(sn)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Remote("Invalid frame: truncated payload")
	}

	switch kind {
	case KindErr:
		var te errs.TsrpcError
		if err := json.Unmarshal(rest, &te); err != nil {
			return nil, errs.Remote("Invalid body")
		}
		d.Err = &te
	case KindReq, KindRes, KindMsg, KindCustom:
		d.Body = rest
	case KindHeartbeat, KindHandshake:
		// no payload
	default:
		return nil, errs.Remote(fmt.Sprintf("Invalid frame: unknown type tag %d", kindByte))
	}

	return d, nil
}

func hasSN(k Kind) bool {
	return k == KindReq || k == KindRes || k == KindErr
}
