package protocol

import "fmt"

// TagTLVContainer wraps the extensible TLV block of an authorization payload.
const TagTLVContainer byte = 0x06

// TLVItem is one tag/value pair inside the TLV container.
type TLVItem struct {
	Tag   byte
	Value []byte
}

// EncodeTLV packs items as consecutive `[tag][len][value]` triples wrapped
// under TagTLVContainer. An empty item list yields a zero-length container,
// kept on the wire for forward extensibility.
func EncodeTLV(items []TLVItem) ([]byte, error) {
	total := 0
	for _, item := range items {
		if len(item.Value) > MaxPayloadLen {
			return nil, fmt.Errorf("tlv value too large: tag %#02x len %d", item.Tag, len(item.Value))
		}
		total += 2 + len(item.Value)
	}
	if total > MaxPayloadLen {
		return nil, fmt.Errorf("tlv container too large: %d", total)
	}

	out := make([]byte, 0, 2+total)
	out = append(out, TagTLVContainer, byte(total))
	for _, item := range items {
		out = append(out, item.Tag, byte(len(item.Value)))
		out = append(out, item.Value...)
	}

	return out, nil
}
