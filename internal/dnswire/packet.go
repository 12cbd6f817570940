package dnswire

// Size limits for inbound messages. MaxQuestions and MaxRRPerSection cap
// the capacity ParseMessage preallocates per section, so a malicious or
// corrupt header count cannot drive a large up-front allocation; they do
// not reject a message whose counts exceed them.
const (
	MaxIncomingMessageSize = 65535
	MaxQuestions           = 4
	MaxRRPerSection        = 100
)

// Message is a complete DNS message (RFC 1035 Section 4): a header plus the
// question, answer, authority, and additional sections.
type Message struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// Marshal serializes the message to wire format, deriving the header's
// section counts from the slices.
func (m Message) Marshal() ([]byte, error) {
	h := Header{
		ID:      m.Header.ID,
		Flags:   m.Header.Flags,
		QDCount: uint16(len(m.Questions)),
		ANCount: uint16(len(m.Answers)),
		NSCount: uint16(len(m.Authorities)),
		ARCount: uint16(len(m.Additionals)),
	}

	estimatedSize := HeaderSize + len(m.Questions)*50 + (len(m.Answers)+len(m.Authorities)+len(m.Additionals))*100
	out := make([]byte, 0, estimatedSize)
	out = append(out, h.Marshal()...)
	for _, q := range m.Questions {
		qb, err := q.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, qb...)
	}
	for _, section := range [][]Record{m.Answers, m.Authorities, m.Additionals} {
		for _, rr := range section {
			b, err := rr.Marshal()
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
	}
	return out, nil
}

// ParseMessage parses a complete DNS message from msg.
func ParseMessage(msg []byte) (Message, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Message{}, err
	}

	m := Message{Header: h}

	limit := func(count uint16, max int) int {
		if int(count) > max {
			return max
		}
		return int(count)
	}

	m.Questions = make([]Question, 0, limit(h.QDCount, MaxQuestions))
	for range h.QDCount {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Message{}, err
		}
		m.Questions = append(m.Questions, q)
	}

	sections := []struct {
		count uint16
		dst   *[]Record
	}{
		{h.ANCount, &m.Answers},
		{h.NSCount, &m.Authorities},
		{h.ARCount, &m.Additionals},
	}
	for _, sec := range sections {
		*sec.dst = make([]Record, 0, limit(sec.count, MaxRRPerSection))
		for range sec.count {
			rr, err := ParseRecord(msg, &off)
			if err != nil {
				return Message{}, err
			}
			*sec.dst = append(*sec.dst, rr)
		}
	}
	return m, nil
}
