package ledger

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/mattjoyce/aobridge/internal/protocol"
)

// Signature type 1 (Arweave RSA-PSS 4096) field sizes.
const (
	signatureTypeArweave = 1
	signatureLength      = 512
	ownerLength          = 512
	targetLength         = 32
	anchorLength         = 32
)

// ErrUnsigned is returned when a data item is serialized before Sign.
var ErrUnsigned = errors.New("data item is not signed")

// DataItem is a signed bundle entry as accepted by a messenger unit.
type DataItem struct {
	Target []byte // optional, 32 bytes
	Anchor []byte // optional, 32 bytes
	Tags   []protocol.Tag
	Data   []byte

	owner     []byte
	signature []byte
}

// NewDataItem builds an unsigned item. target is a base64url process id or "".
func NewDataItem(target string, tags []protocol.Tag, data []byte) (*DataItem, error) {
	if err := protocol.ValidateTags(tags); err != nil {
		return nil, err
	}
	item := &DataItem{Tags: tags, Data: data}
	if target != "" {
		raw, err := b64.DecodeString(target)
		if err != nil || len(raw) != targetLength {
			return nil, fmt.Errorf("invalid process id %q: must be %d base64url bytes", target, targetLength)
		}
		item.Target = raw
	}

	anchor := make([]byte, anchorLength*3/4)
	if _, err := rand.Read(anchor); err != nil {
		return nil, fmt.Errorf("generate anchor: %w", err)
	}
	item.Anchor = []byte(b64.EncodeToString(anchor))
	return item, nil
}

// Sign sets the owner and signature from w.
func (d *DataItem) Sign(w *Wallet) error {
	owner := w.Owner()
	if len(owner) != ownerLength {
		return fmt.Errorf("wallet modulus is %d bytes, want %d", len(owner), ownerLength)
	}
	d.owner = owner

	digest := sha256.Sum256(d.signatureData())
	sig, err := rsa.SignPSS(rand.Reader, w.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: 32,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return fmt.Errorf("sign data item: %w", err)
	}
	d.signature = sig
	return nil
}

// Verify checks the signature against the embedded owner.
func (d *DataItem) Verify() error {
	if d.signature == nil {
		return ErrUnsigned
	}
	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(d.owner), E: 65537}
	digest := sha256.Sum256(d.signatureData())
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], d.signature, &rsa.PSSOptions{
		SaltLength: 32,
		Hash:       crypto.SHA256,
	})
}

// ID is base64url(sha256(signature)). Empty until signed.
func (d *DataItem) ID() string {
	if d.signature == nil {
		return ""
	}
	sum := sha256.Sum256(d.signature)
	return b64.EncodeToString(sum[:])
}

// Owner returns the signer's address.
func (d *DataItem) Owner() string {
	if d.owner == nil {
		return ""
	}
	return AddressOf(d.owner)
}

func (d *DataItem) signatureData() []byte {
	return deepHash([][]byte{
		[]byte("dataitem"),
		[]byte("1"),
		[]byte(fmt.Sprint(signatureTypeArweave)),
		d.owner,
		orEmpty(d.Target),
		orEmpty(d.Anchor),
		encodeTags(d.Tags),
		orEmpty(d.Data),
	})
}

// Bytes serializes the signed item in binary bundle format.
func (d *DataItem) Bytes() ([]byte, error) {
	if d.signature == nil {
		return nil, ErrUnsigned
	}
	rawTags := encodeTags(d.Tags)

	var buf bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, uint16(signatureTypeArweave))
	buf.Write(d.signature)
	buf.Write(d.owner)
	writeOptional(&buf, d.Target)
	writeOptional(&buf, d.Anchor)
	_ = binary.Write(&buf, le, uint64(len(d.Tags)))
	_ = binary.Write(&buf, le, uint64(len(rawTags)))
	buf.Write(rawTags)
	buf.Write(d.Data)
	return buf.Bytes(), nil
}

// ParseDataItem decodes a binary data item. Used by tests and fake units.
func ParseDataItem(raw []byte) (*DataItem, error) {
	r := bytes.NewReader(raw)
	le := binary.LittleEndian

	var sigType uint16
	if err := binary.Read(r, le, &sigType); err != nil {
		return nil, fmt.Errorf("read signature type: %w", err)
	}
	if sigType != signatureTypeArweave {
		return nil, fmt.Errorf("unsupported signature type %d", sigType)
	}

	d := &DataItem{
		signature: make([]byte, signatureLength),
		owner:     make([]byte, ownerLength),
	}
	if _, err := io.ReadFull(r, d.signature); err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	if _, err := io.ReadFull(r, d.owner); err != nil {
		return nil, fmt.Errorf("read owner: %w", err)
	}
	var err error
	if d.Target, err = readOptional(r, targetLength); err != nil {
		return nil, fmt.Errorf("read target: %w", err)
	}
	if d.Anchor, err = readOptional(r, anchorLength); err != nil {
		return nil, fmt.Errorf("read anchor: %w", err)
	}

	var numTags, numTagBytes uint64
	if err := binary.Read(r, le, &numTags); err != nil {
		return nil, fmt.Errorf("read tag count: %w", err)
	}
	if err := binary.Read(r, le, &numTagBytes); err != nil {
		return nil, fmt.Errorf("read tag length: %w", err)
	}
	if numTagBytes > uint64(r.Len()) {
		return nil, fmt.Errorf("tag length %d exceeds item size", numTagBytes)
	}
	rawTags := make([]byte, numTagBytes)
	if _, err := io.ReadFull(r, rawTags); err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	if d.Tags, err = decodeTags(rawTags); err != nil {
		return nil, err
	}
	if uint64(len(d.Tags)) != numTags {
		return nil, fmt.Errorf("tag count %d does not match header %d", len(d.Tags), numTags)
	}

	d.Data = make([]byte, r.Len())
	_, _ = io.ReadFull(r, d.Data)
	return d, nil
}

// TargetID returns the target as a base64url process id.
func (d *DataItem) TargetID() string {
	if len(d.Target) == 0 {
		return ""
	}
	return b64.EncodeToString(d.Target)
}

// Tag returns the first value for name.
func (d *DataItem) Tag(name string) (string, bool) {
	for _, t := range d.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

func writeOptional(buf *bytes.Buffer, field []byte) {
	if len(field) == 0 {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	buf.Write(field)
}

func readOptional(r *bytes.Reader, size int) ([]byte, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	field := make([]byte, size)
	if _, err := io.ReadFull(r, field); err != nil {
		return nil, err
	}
	return field, nil
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
