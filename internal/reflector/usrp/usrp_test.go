package usrp_test

import (
	"testing"

	"github.com/kc9wx/linkcore/internal/reflector/usrp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := make([]int16, usrp.VoiceSamples)
	for i := range samples {
		samples[i] = int16(i * 7)
	}
	p := usrp.Packet{
		Header: usrp.Header{Seq: 42, Memory: 1, KeyUp: 1, Tg: 3121, Type: usrp.TypeVoice, MpxID: 0, Reserved: 0},
		Payload: usrp.EncodeVoiceSamples(samples),
	}
	wire, err := usrp.Encode(p)
	require.NoError(t, err)
	assert.Equal(t, "USRP", string(wire[0:4]))

	decoded, err := usrp.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, p.Header, decoded.Header)

	got, err := usrp.DecodeVoiceSamples(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, samples, got)
}

func TestDecodeRejectsBadMagicAndShortPacket(t *testing.T) {
	_, err := usrp.Decode([]byte("short"))
	assert.Error(t, err)

	bad := make([]byte, 32)
	copy(bad, "NOPE")
	_, err = usrp.Decode(bad)
	assert.Error(t, err)
}

func TestIsEndOfTransmission(t *testing.T) {
	end := usrp.Packet{Header: usrp.Header{Type: usrp.TypeVoice, KeyUp: 0}}
	assert.True(t, usrp.IsEndOfTransmission(end))

	withPayload := usrp.Packet{Header: usrp.Header{Type: usrp.TypeVoice, KeyUp: 0}, Payload: []byte{1, 2}}
	assert.False(t, usrp.IsEndOfTransmission(withPayload))

	keyedUp := usrp.Packet{Header: usrp.Header{Type: usrp.TypeVoice, KeyUp: 1}}
	assert.False(t, usrp.IsEndOfTransmission(keyedUp))
}

func TestSetInfoRoundTrip(t *testing.T) {
	info := usrp.SetInfo{
		DmrID: 3121001, RepeaterID: 312000, Tg: 3121,
		Timeslot: 1, ColorCode: 3,
		Callsign: "KC9WX", FreeText: "node online",
	}
	wire := usrp.EncodeSetInfo(info)
	assert.Equal(t, usrp.TlvTagSetInfo, wire[0])

	got, err := usrp.ParseSetInfo(wire)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestNextSeqWrapsModulo2Pow15(t *testing.T) {
	assert.Equal(t, uint32(0), usrp.NextSeq((1<<15)-1))
	assert.Equal(t, uint32(5), usrp.NextSeq(4))
}
