package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMarshalA(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeA), Class: 1, TTL: 300, Data: []byte{192, 0, 2, 1}}
	b, err := rr.Marshal()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(b), 17)
}

func TestRecordMarshalCNAME(t *testing.T) {
	rr := Record{Name: "www.example.com", Type: uint16(TypeCNAME), Class: 1, TTL: 3600, Data: "example.com"}
	b, err := rr.Marshal()
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}

func TestRecordMarshalMX(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeMX), Class: 1, TTL: 3600, Data: MXData{Preference: 10, Exchange: "mail.example.com"}}
	b, err := rr.Marshal()
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}

func TestRecordMarshalTXT(t *testing.T) {
	tests := []struct {
		name string
		data any
	}{
		{"string", "hello world"},
		{"string slice", []string{"hello", "world"}},
		{"byte slice", []byte("raw bytes")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := Record{Name: "example.com", Type: uint16(TypeTXT), Class: 1, TTL: 300, Data: tt.data}
			b, err := rr.Marshal()
			require.NoError(t, err)
			assert.NotEmpty(t, b)
		})
	}
}

func TestRecordMarshalInvalidAData(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeA), Class: 1, TTL: 300, Data: "not bytes"}
	_, err := rr.Marshal()
	assert.Error(t, err)
}

func TestRecordMarshalInvalidAAAAData(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeAAAA), Class: 1, TTL: 300, Data: []byte{1, 2, 3, 4}}
	_, err := rr.Marshal()
	assert.Error(t, err)
}

func TestRecordIPv4(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeA), Class: 1, TTL: 300, Data: []byte{192, 0, 2, 1}}
	ip, ok := rr.IPv4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", ip)
}

func TestRecordIPv6(t *testing.T) {
	rr := Record{
		Name: "example.com", Type: uint16(TypeAAAA), Class: 1, TTL: 300,
		Data: []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
	}
	ip, ok := rr.IPv6()
	require.True(t, ok)
	assert.Equal(t, "2001:db8::1", ip)
}

func TestParseRecordA(t *testing.T) {
	msg := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0,
		0, 1,
		0, 1,
		0, 0, 1, 44,
		0, 4,
		192, 0, 2, 1,
	}
	off := 0
	rr, err := ParseRecord(msg, &off)
	require.NoError(t, err)
	assert.Equal(t, "example.com", rr.Name)
	assert.Equal(t, uint16(TypeA), rr.Type)
	assert.Equal(t, uint32(300), rr.TTL)
	data, ok := rr.Data.([]byte)
	require.True(t, ok)
	assert.Len(t, data, 4)
}

func TestParseRecordRoundTripCNAME(t *testing.T) {
	rr := Record{Name: "www.example.com", Type: uint16(TypeCNAME), Class: 1, TTL: 3600, Data: "target.example.com"}
	b, err := rr.Marshal()
	require.NoError(t, err)

	off := 0
	parsed, err := ParseRecord(b, &off)
	require.NoError(t, err)
	assert.Equal(t, uint16(TypeCNAME), parsed.Type)
	target, ok := parsed.Data.(string)
	require.True(t, ok)
	assert.Equal(t, "target.example.com", target)
}

func TestParseRecordTruncated(t *testing.T) {
	msg := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0,
		0, 1,
		0, 1,
		0, 0, 1, 44,
		0, 4,
	}
	off := 0
	_, err := ParseRecord(msg, &off)
	assert.Error(t, err)
}
