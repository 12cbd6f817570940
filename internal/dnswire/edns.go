package dnswire

import (
	"encoding/binary"

	"github.com/meridian-net/netengine/internal/netutil"
)

// EDNS constants (RFC 6891).
const (
	DefaultUDPPayloadSize     = 512  // traditional DNS UDP limit (RFC 1035)
	EDNSDefaultUDPPayloadSize = 1232 // safe EDNS size avoiding fragmentation
	EDNSMaxUDPPayloadSize     = 4096
	EDNSMinUDPPayloadSize     = 512
)

// EDNSOption is a single option carried in an OPT record's RDATA.
type EDNSOption struct {
	Code uint16
	Data []byte
}

const (
	ednsOptionHeaderLen   = 4
	ednsMaxOptionDataSize = EDNSMaxUDPPayloadSize
)

func isAllowedEDNSOption(code uint16) bool {
	switch code {
	case 10: // COOKIE
		return true
	case 12: // PADDING
		return true
	default:
		return false
	}
}

// Marshal serializes an EDNS option to wire format.
func (o EDNSOption) Marshal() []byte {
	b := make([]byte, 4+len(o.Data))
	binary.BigEndian.PutUint16(b[0:2], o.Code)
	binary.BigEndian.PutUint16(b[2:4], netutil.ClampIntToUint16(len(o.Data)))
	copy(b[4:], o.Data)
	return b
}

// ParseEDNSOptions extracts allowed options from raw OPT RDATA, skipping
// unknown or malformed ones rather than failing the whole record.
func ParseEDNSOptions(rdata []byte) []EDNSOption {
	opts := make([]EDNSOption, 0, 2)
	for i := 0; i < len(rdata); {
		if len(rdata)-i < ednsOptionHeaderLen {
			break
		}
		code := binary.BigEndian.Uint16(rdata[i : i+2])
		ln := int(binary.BigEndian.Uint16(rdata[i+2 : i+4]))
		i += ednsOptionHeaderLen

		if ln < 0 || ln > ednsMaxOptionDataSize {
			i += ln
			if i > len(rdata) {
				break
			}
			continue
		}
		if i+ln > len(rdata) {
			break
		}
		if !isAllowedEDNSOption(code) {
			i += ln
			continue
		}
		data := make([]byte, ln)
		copy(data, rdata[i:i+ln])
		opts = append(opts, EDNSOption{Code: code, Data: data})
		i += ln
	}
	return opts
}

// OPTRecord is the EDNS pseudo-record (RFC 6891) a client attaches to
// outbound queries to advertise its UDP payload size and DNSSEC support.
type OPTRecord struct {
	UDPPayloadSize uint16
	ExtendedRCode  uint8
	Version        uint8
	DNSSECOk       bool
	Options        []EDNSOption
}

// NewOPT builds an OPT record advertising the given UDP payload size.
func NewOPT(udpPayloadSize int, dnssecOK bool) OPTRecord {
	sz := netutil.ClampInt(udpPayloadSize, EDNSMinUDPPayloadSize, 65535)
	return OPTRecord{UDPPayloadSize: netutil.ClampIntToUint16(sz), DNSSECOk: dnssecOK}
}

// AsRecord renders the OPT record as an additional-section Record, ready to
// append to a Message before marshaling.
func (o OPTRecord) AsRecord() Record {
	ttl := packOPTTTL(o.ExtendedRCode, o.Version, o.DNSSECOk)
	rdata := make([]byte, 0)
	for _, opt := range o.Options {
		rdata = append(rdata, opt.Marshal()...)
	}
	return Record{
		Name:  "",
		Type:  uint16(TypeOPT),
		Class: o.UDPPayloadSize, // CLASS field carries the UDP size, not a record class
		TTL:   ttl,
		Data:  rdata,
	}
}

func packOPTTTL(extRCode, version uint8, dnssecOK bool) uint32 {
	ttl := uint32(extRCode)<<24 | uint32(version)<<16
	if dnssecOK {
		ttl |= 1 << 15
	}
	return ttl
}

// ExtractOPT finds and decodes the OPT pseudo-record among additionals, if any.
func ExtractOPT(additionals []Record) *OPTRecord {
	for _, r := range additionals {
		if RecordType(r.Type) != TypeOPT {
			continue
		}
		raw, ok := r.Data.([]byte)
		if !ok {
			continue
		}
		o := OPTRecord{
			UDPPayloadSize: r.Class,
			ExtendedRCode:  netutil.ClampUint32ToUint8((r.TTL >> 24) & 0xFF),
			Version:        netutil.ClampUint32ToUint8((r.TTL >> 16) & 0xFF),
			DNSSECOk:       (r.TTL>>15)&0x1 == 1,
			Options:        ParseEDNSOptions(raw),
		}
		return &o
	}
	return nil
}
