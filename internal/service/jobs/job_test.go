package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_LegacyShapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Job
	}{
		{
			name: "profile",
			in:   `{"kind":"sync-profile","waId":"519","cabildoName":"Norte"}`,
			want: SyncProfile{ParticipantID: "519", CabildoName: "Norte"},
		},
		{
			name: "text fragment",
			in:   `{"kind":"sync-message","waId":"519","type":"station2","msgType":"text","text":"hola"}`,
			want: SyncMessage{ParticipantID: "519", Segment: "station2", Payload: Text{Body: "hola"}},
		},
		{
			name: "audio fragment",
			in:   `{"kind":"sync-message","waId":"519","type":"final","msgType":"audio","mediaId":"m-1"}`,
			want: SyncMessage{ParticipantID: "519", Segment: "final", Payload: Audio{MediaRef: "m-1"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_RoundTripsAudio(t *testing.T) {
	in := SyncMessage{ParticipantID: "a", Segment: "station1", Payload: Audio{MediaRef: "file:///tmp/a.ogg"}}
	data, err := Encode(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"sync-message","waId":"a","type":"station1","msgType":"audio","mediaId":"file:///tmp/a.ogg"}`, string(data))

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecode_Rejects(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"kind":"sync-profile"}`,
		`{"kind":"reindex","waId":"a"}`,
		`{"kind":"sync-message","waId":"a","msgType":"video"}`,
	} {
		_, err := Decode([]byte(in))
		assert.Error(t, err, in)
	}
}
