package dtls

import "fmt"

// struct {
//     ExtensionType extension_type;
//     opaque extension_data<0..2^16-1>;
// } Extension;
type extension struct {
	Type ExtensionType
	Data []byte
}

// ExtensionList is a mapping from 16-bit extension type to opaque payload
// (spec.md §3, "client_extensions"/"server_extensions"). Iteration order
// is irrelevant to the driver's semantics, but on-wire serialization
// preserves insertion order (Design Note 9, "Extension maps"), so this is
// backed by a slice of (type, data) pairs rather than a Go map.
type ExtensionList struct {
	entries []extension
}

// NewExtensionList returns an empty extension set ready for Add calls in
// insertion order.
func NewExtensionList() ExtensionList {
	return ExtensionList{}
}

func (l ExtensionList) Len() int { return len(l.entries) }

// Has reports whether an extension of the given type is present.
func (l ExtensionList) Has(t ExtensionType) bool {
	_, ok := l.Get(t)
	return ok
}

// Get returns the payload of the extension of the given type, if present.
func (l ExtensionList) Get(t ExtensionType) ([]byte, bool) {
	for _, e := range l.entries {
		if e.Type == t {
			return e.Data, true
		}
	}
	return nil, false
}

// Add appends an extension, preserving insertion order. It errors if the
// type is already present (the TLS/DTLS presentation language forbids
// duplicate extensions of the same type in one message).
func (l *ExtensionList) Add(t ExtensionType, data []byte) error {
	if l.Has(t) {
		return fmt.Errorf("dtls.extensions: duplicate extension type %#04x", uint16(t))
	}
	l.entries = append(l.entries, extension{Type: t, Data: data})
	return nil
}

// Marshal encodes the extensions block (the "Extension extensions<0..2^16-1>"
// vector). An empty list marshals to a zero-length slice; whether the
// caller writes the vector's own 2-byte length prefix when the block is
// empty is message-specific (ClientHello/ServerHello omit the whole block
// when there are no extensions).
func (l ExtensionList) Marshal() ([]byte, error) {
	var body []byte
	for _, e := range l.entries {
		if len(e.Data) > maxExtensionDataLen {
			return nil, fmt.Errorf("dtls.extensions: extension %#04x too long", uint16(e.Type))
		}
		body = append(body, byte(e.Type>>8), byte(e.Type))
		body = append(body, byte(len(e.Data)>>8), byte(len(e.Data)))
		body = append(body, e.Data...)
	}
	return body, nil
}

// Unmarshal decodes a full "Extension extensions<0..2^16-1>" vector,
// including its own 2-byte length prefix, from the head of data.
// assertEmpty-style trailing-byte checks are the caller's responsibility
// per message (spec.md §4.2).
func (l *ExtensionList) Unmarshal(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("dtls.extensions: too short for length")
	}
	blockLen := int(data[0])<<8 | int(data[1])
	if len(data) < 2+blockLen {
		return 0, fmt.Errorf("dtls.extensions: too short for declared length")
	}
	body := data[2 : 2+blockLen]

	l.entries = nil
	for len(body) > 0 {
		if len(body) < extensionHeaderLen {
			return 0, fmt.Errorf("dtls.extensions: truncated extension header")
		}
		etype := ExtensionType(int(body[0])<<8 | int(body[1]))
		elen := int(body[2])<<8 | int(body[3])
		body = body[extensionHeaderLen:]
		if len(body) < elen {
			return 0, fmt.Errorf("dtls.extensions: truncated extension data")
		}
		edata := make([]byte, elen)
		copy(edata, body[:elen])
		if err := l.Add(etype, edata); err != nil {
			return 0, err
		}
		body = body[elen:]
	}
	return 2 + blockLen, nil
}

const (
	extensionHeaderLen = 4
	maxExtensionDataLen = (1 << 16) - 1
)
