package dnswire

import (
	"crypto/rand"
	"encoding/binary"
)

// NewQuery builds a recursive, single-question query message for name/qtype,
// optionally attaching an EDNS OPT record advertising udpPayloadSize.
//
// The transaction ID is drawn from crypto/rand so an off-path attacker can't
// predict it and spoof a response (RFC 5452).
func NewQuery(name string, qtype uint16, udpPayloadSize int, dnssecOK bool) (Message, error) {
	id, err := newTransactionID()
	if err != nil {
		return Message{}, err
	}
	m := Message{
		Header: Header{ID: id, Flags: RDFlag},
		Questions: []Question{
			{Name: NormalizeName(name), Type: qtype, Class: uint16(ClassIN)},
		},
	}
	if udpPayloadSize > 0 {
		opt := NewOPT(udpPayloadSize, dnssecOK)
		m.Additionals = append(m.Additionals, opt.AsRecord())
	}
	return m, nil
}

func newTransactionID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// PatchTransactionID rewrites the 16-bit ID field of an already-marshaled
// query in place, letting a resolver reuse one encoded query across retries
// against different upstreams without re-marshaling.
func PatchTransactionID(msg []byte, id uint16) {
	if len(msg) < 2 {
		return
	}
	binary.BigEndian.PutUint16(msg[0:2], id)
}

// ClientMaxUDPSize returns the UDP payload size a response to req may use:
// the EDNS-advertised size if present, else the traditional 512-byte limit.
func ClientMaxUDPSize(req Message) int {
	opt := ExtractOPT(req.Additionals)
	if opt != nil {
		if opt.UDPPayloadSize < DefaultUDPPayloadSize {
			return DefaultUDPPayloadSize
		}
		return int(opt.UDPPayloadSize)
	}
	return DefaultUDPPayloadSize
}
