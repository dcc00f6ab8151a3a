package transportdata

import (
	"encoding/json"

	"github.com/tsrpc-go/tsrpc/errs"
)

// textWire is the JSON shape of the text box (spec.md §4.2):
//
//	{"serviceName": …, "sn": …, "body": …, "protoInfo": …}
type textWire struct {
	Type        string           `json:"type,omitempty"`
	ServiceName string           `json:"serviceName,omitempty"`
	Sn          *uint32          `json:"sn,omitempty"`
	Body        json.RawMessage  `json:"body,omitempty"`
	Err         *errs.TsrpcError `json:"err,omitempty"`
	ProtoInfo   *ProtoInfo       `json:"protoInfo,omitempty"`
}

// EncodeText produces the JSON-shaped text box. When skipSN is true (the
// transport already conveys serviceName/sn/type out of band — spec.md
// §4.2's "encodeSkipSN" optimization, used by the HTTP client), the
// envelope is dropped entirely and Body is emitted alone, matching
// spec.md §4.7's "Body: JSON-encoded request body (text)".
func EncodeText(d *TransportData, skipSN bool) ([]byte, error) {
	if skipSN {
		switch d.Kind {
		case KindReq, KindRes, KindMsg, KindCustom:
			if d.Body == nil {
				return []byte("null"), nil
			}
			return d.Body, nil
		}
	}

	w := textWire{Type: d.Kind.String(), ProtoInfo: d.ProtoInfo}

	switch d.Kind {
	case KindReq, KindRes, KindMsg, KindCustom:
		w.ServiceName = d.ServiceName
		if d.Body != nil {
			w.Body = json.RawMessage(d.Body)
		}
	case KindErr:
		w.Err = d.Err
	}

	if hasSN(d.Kind) {
		sn := d.Sn
		w.Sn = &sn
	}

	return json.Marshal(w)
}

// DecodeTextOptions supplies the fields a skip-SN transport conveys out of
// band, so DecodeText can reconstruct a complete TransportData.
type DecodeTextOptions struct {
	SkipSN      bool
	Kind        Kind
	ServiceName string
	Sn          uint32
}

// DecodeText inverts EncodeText. When opts.SkipSN is set, data is the bare
// body and every other field comes from opts.
func DecodeText(data []byte, opts DecodeTextOptions) (*TransportData, error) {
	if opts.SkipSN {
		return &TransportData{
			Kind:        opts.Kind,
			ServiceName: opts.ServiceName,
			Sn:          opts.Sn,
			Body:        data,
		}, nil
	}

	var w textWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errs.Local("Invalid body")
	}

	kind, ok := KindFromString(w.Type)
	if !ok {
		kind = opts.Kind
	}

	d := &TransportData{
		Kind:        kind,
		ServiceName: w.ServiceName,
		ProtoInfo:   w.ProtoInfo,
		Err:         w.Err,
	}
	if d.ServiceName == "" {
		d.ServiceName = opts.ServiceName
	}
	if w.Sn != nil {
		d.Sn = *w.Sn
	} else {
		d.Sn = opts.Sn
	}
	if len(w.Body) > 0 {
		d.Body = []byte(w.Body)
	}

	return d, nil
}
