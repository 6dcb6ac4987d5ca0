package ledger

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/aobridge/internal/protocol"
)

var (
	sharedOnce   sync.Once
	sharedWallet *Wallet
	sharedErr    error
)

func testWallet(t *testing.T) *Wallet {
	t.Helper()
	sharedOnce.Do(func() {
		sharedWallet, sharedErr = GenerateWallet()
	})
	require.NoError(t, sharedErr)
	return sharedWallet
}

func TestEncodeTags(t *testing.T) {
	assert.Empty(t, encodeTags(nil))

	got := encodeTags([]protocol.Tag{{Name: "a", Value: "bc"}})
	want := []byte{0x02, 0x02, 'a', 0x04, 'b', 'c', 0x00}
	assert.Equal(t, want, got)

	tags := []protocol.Tag{{Name: "Action", Value: "Eval"}, {Name: "Empty", Value: ""}}
	decoded, err := decodeTags(encodeTags(tags))
	require.NoError(t, err)
	assert.Equal(t, tags, decoded)
}

func TestDecodeTags_Rejects(t *testing.T) {
	_, err := decodeTags([]byte{0x02, 0x7f})
	assert.Error(t, err)

	_, err = decodeTags([]byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestDeepHash_Distinguishes(t *testing.T) {
	blob := deepHash([]byte("abc"))
	list := deepHash([][]byte{[]byte("abc")})
	assert.Len(t, blob, 48)
	assert.NotEqual(t, blob, list)
	assert.Equal(t, blob, deepHash([]byte("abc")))
	assert.NotEqual(t, deepHash([][]byte{[]byte("ab"), []byte("c")}), deepHash([][]byte{[]byte("a"), []byte("bc")}))
}

func TestDataItem_SignSerializeParse(t *testing.T) {
	w := testWallet(t)
	target := w.Address()

	tags := []protocol.Tag{{Name: "Action", Value: "Ping"}}
	item, err := NewDataItem(target, tags, []byte("hello"))
	require.NoError(t, err)
	assert.Len(t, item.Anchor, anchorLength)

	_, err = item.Bytes()
	assert.ErrorIs(t, err, ErrUnsigned)
	assert.Empty(t, item.ID())

	require.NoError(t, item.Sign(w))
	require.NoError(t, item.Verify())
	assert.Len(t, item.ID(), 43)
	assert.Equal(t, w.Address(), item.Owner())

	raw, err := item.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00}, raw[:2])

	parsed, err := ParseDataItem(raw)
	require.NoError(t, err)
	assert.Equal(t, item.ID(), parsed.ID())
	assert.Equal(t, target, parsed.TargetID())
	assert.Equal(t, tags, parsed.Tags)
	assert.True(t, bytes.Equal([]byte("hello"), parsed.Data))
	require.NoError(t, parsed.Verify())

	v, ok := parsed.Tag("Action")
	assert.True(t, ok)
	assert.Equal(t, "Ping", v)
}

func TestDataItem_TamperedDataFailsVerify(t *testing.T) {
	w := testWallet(t)
	item, err := NewDataItem("", nil, []byte("original"))
	require.NoError(t, err)
	require.NoError(t, item.Sign(w))

	item.Data = []byte("tampered")
	assert.Error(t, item.Verify())
}

func TestNewDataItem_Validation(t *testing.T) {
	_, err := NewDataItem("short", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid process id")

	_, err = NewDataItem("", []protocol.Tag{{Name: "", Value: "x"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tag at index 0")
}

func TestProtocolTagsFitCommandLimit(t *testing.T) {
	user := make([]protocol.Tag, protocol.MaxCommandTags)
	for i := range user {
		user[i] = protocol.Tag{Name: "k", Value: "v"}
	}
	for name, tags := range map[string][]protocol.Tag{
		"spawn":   spawnTags("module", "scheduler", user),
		"message": messageTags(user),
		"dryrun":  dryRunTags(user),
	} {
		assert.LessOrEqual(t, len(tags), protocol.MaxTags, name)
		assert.NoError(t, protocol.ValidateTags(tags), name)
	}
}
