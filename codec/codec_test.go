package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

type person struct {
	Name   string   `json:"name"`
	Phones []string `json:"phones,omitempty"`
}

func TestRegistered(t *testing.T) {
	c := encoding.GetCodec(Name)
	require.NotNil(t, c)
	assert.Equal(t, Name, c.Name())
}

func TestMarshalUnmarshal(t *testing.T) {
	t.Parallel()

	msg := &person{Name: "James Tester", Phones: []string{"555-555-5555"}}
	data, err := JSON{}.Marshal(msg)
	require.NoError(t, err)

	var res person
	require.NoError(t, JSON{}.Unmarshal(data, &res))
	assert.Equal(t, *msg, res)
}

func TestUnmarshalEmpty(t *testing.T) {
	t.Parallel()

	res := person{Name: "untouched"}
	require.NoError(t, JSON{}.Unmarshal(nil, &res))
	assert.Equal(t, "untouched", res.Name)
}

func TestNilMessage(t *testing.T) {
	t.Parallel()

	_, err := JSON{}.Marshal(nil)
	assert.True(t, errors.Is(err, ErrNilMessage))
	err = JSON{}.Unmarshal([]byte("{}"), nil)
	assert.True(t, errors.Is(err, ErrNilMessage))
}

func TestUnmarshalInvalid(t *testing.T) {
	t.Parallel()

	var res person
	err := JSON{}.Unmarshal([]byte("{not json"), &res)
	assert.Error(t, err)
}

// BenchmarkMarshal checks how fast a small message is encoded.
func BenchmarkMarshal(b *testing.B) {
	msg := &person{Name: "James Tester"}
	for i := 0; i < b.N; i++ {
		data, err := JSON{}.Marshal(msg)
		if err != nil {
			b.Fatal(err)
		}
		if len(data) == 0 {
			b.Fatal("marshal produced zero bytes")
		}
	}
}
