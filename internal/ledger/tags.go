package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mattjoyce/aobridge/internal/protocol"
)

// Tags are serialized as an Avro array of {name: string, value: string}
// records. An empty list serializes to zero bytes.

func encodeTags(tags []protocol.Tag) []byte {
	if len(tags) == 0 {
		return []byte{}
	}
	var buf bytes.Buffer
	writeLong(&buf, int64(len(tags)))
	for _, t := range tags {
		writeString(&buf, t.Name)
		writeString(&buf, t.Value)
	}
	writeLong(&buf, 0)
	return buf.Bytes()
}

func decodeTags(raw []byte) ([]protocol.Tag, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	r := bytes.NewReader(raw)
	var tags []protocol.Tag
	for {
		count, err := binary.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("read tag block: %w", err)
		}
		if count == 0 {
			break
		}
		if count < 0 {
			// Negative counts are followed by the block size in bytes.
			count = -count
			if _, err := binary.ReadVarint(r); err != nil {
				return nil, fmt.Errorf("read tag block size: %w", err)
			}
		}
		for i := int64(0); i < count; i++ {
			name, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("read tag name: %w", err)
			}
			value, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("read tag value: %w", err)
			}
			tags = append(tags, protocol.Tag{Name: name, Value: value})
		}
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after tags")
	}
	return tags, nil
}

// writeLong writes a zigzag varint, which is what binary.PutVarint produces.
func writeLong(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeLong(buf, int64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadVarint(r)
	if err != nil {
		return "", err
	}
	if n < 0 || n > int64(r.Len()) {
		return "", fmt.Errorf("invalid string length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
