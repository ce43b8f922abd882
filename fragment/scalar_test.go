package fragment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScalarValueEncodeDecodeRoundTrip(t *testing.T) {
	addr := make([]byte, 20)
	for i := range addr {
		addr[i] = byte(i)
	}
	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = byte(255 - i)
	}
	b160, err := B160Value(addr)
	require.NoError(t, err)
	b256, err := B256Value(hash)
	require.NoError(t, err)

	values := []ScalarValue{
		NullValue(),
		BoolValue(true),
		BoolValue(false),
		Uint8Value(7),
		Uint16Value(1024),
		Uint32Value(1 << 20),
		Uint64Value(1 << 40),
		b160,
		b256,
	}

	for _, v := range values {
		encoded := v.Encode()
		decoded, n, err := DecodeScalarValue(encoded)
		require.NoError(t, err)
		require.Equal(t, len(encoded), n)
		require.Equal(t, v.Kind, decoded.Kind)
		require.Equal(t, v.U64, decoded.U64)
		require.Equal(t, v.Bytes, decoded.Bytes)
	}
}

func TestScalarValueKeyDistinguishesKinds(t *testing.T) {
	// A u8 and a u64 with the same numeric value must not collide in a
	// map keyed on ScalarValue.Key(), since BitmapIndexBuilder relies on
	// the key uniquely identifying (kind, value).
	u8 := Uint8Value(5)
	u64 := Uint64Value(5)
	require.NotEqual(t, u8.Key(), u64.Key())
}

func TestB160ValueRejectsWrongLength(t *testing.T) {
	_, err := B160Value(make([]byte, 19))
	require.Error(t, err)
}
