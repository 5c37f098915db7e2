package modem_test

import (
	"testing"
	"time"

	"github.com/kc9wx/linkcore/internal/modem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	sent []string
}

func (w *fakeWriter) WriteCommand(cmd string) error {
	w.sent = append(w.sent, cmd)
	return nil
}

func TestClassifyKnownReplies(t *testing.T) {
	assert.Equal(t, modem.ReplyOK, modem.Classify("OK"))
	assert.Equal(t, modem.ReplyRinging, modem.Classify("RING"))
	assert.Equal(t, modem.ReplyBusy, modem.Classify("BUSY"))
	assert.Equal(t, modem.ReplyNoCarrier, modem.Classify("NO CARRIER"))
	assert.Equal(t, modem.ReplyConnect, modem.Classify("CONNECT 9600"))
	assert.Equal(t, modem.ReplyVcon, modem.Classify("VCON"))
	assert.Equal(t, modem.ReplyUnknown, modem.Classify("garbage"))
}

func cfg() modem.Config {
	return modem.Config{
		Commands: modem.Commands{
			Init: "ATZ", Reset: "ATZ0", Hangup: "ATH0", Pickup: "ATA", Voice: "AT+FCLASS=8", DialFmt: "ATD%s",
		},
		ResponseTimeout:    2 * time.Second,
		MaxRings:           3,
		VconTimeout:        10 * time.Second,
		BusyToneMinMs:      400 * time.Millisecond,
		BusyToneMaxMs:      600 * time.Millisecond,
		MaxHangupDeferrals: 4,
	}
}

func TestBootSequenceResetThenInit(t *testing.T) {
	w := &fakeWriter{}
	a := modem.New(cfg(), w, modem.Hooks{}, nil)
	require.NoError(t, a.Boot())
	assert.Equal(t, []string{"ATZ0"}, w.sent)

	require.NoError(t, a.ReplyReceived(modem.ReplyOK))
	assert.Equal(t, []string{"ATZ0", "ATZ"}, w.sent)
}

func TestIncomingCallPicksUpAfterMaxRings(t *testing.T) {
	w := &fakeWriter{}
	var raised bool
	a := modem.New(cfg(), w, modem.Hooks{RaisePhoneLine: func() { raised = true }}, nil)

	require.NoError(t, a.RingReceived())
	require.NoError(t, a.RingReceived())
	assert.Empty(t, w.sent, "should not pick up before maxRings")
	require.NoError(t, a.RingReceived())
	assert.Equal(t, []string{"ATA"}, w.sent)

	require.NoError(t, a.ReplyReceived(modem.ReplyVcon))
	assert.True(t, raised)
	assert.Equal(t, modem.StateUp, a.State())
}

func TestOutgoingCallRaisesOnVcon(t *testing.T) {
	w := &fakeWriter{}
	var raised bool
	a := modem.New(cfg(), w, modem.Hooks{RaisePhoneLine: func() { raised = true }}, nil)

	require.NoError(t, a.Dial("5551234"))
	assert.Equal(t, []string{"ATD5551234"}, w.sent)

	require.NoError(t, a.ReplyReceived(modem.ReplyVcon))
	assert.True(t, raised)
}

func TestBusyToneDetectionHangsUpAfterThreePulses(t *testing.T) {
	w := &fakeWriter{}
	var busyReason string
	a := modem.New(cfg(), w, modem.Hooks{OnBusy: func(r string) { busyReason = r }}, nil)

	require.NoError(t, a.BusyToneDetected(500*time.Millisecond))
	require.NoError(t, a.BusyToneDetected(500*time.Millisecond))
	assert.Empty(t, busyReason)
	require.NoError(t, a.BusyToneDetected(500*time.Millisecond))
	assert.Equal(t, "busy", busyReason)
	assert.Equal(t, []string{"ATH0"}, w.sent)
}

func TestBusyToneOutOfWindowResetsCount(t *testing.T) {
	w := &fakeWriter{}
	a := modem.New(cfg(), w, modem.Hooks{}, nil)

	require.NoError(t, a.BusyToneDetected(500*time.Millisecond))
	require.NoError(t, a.BusyToneDetected(50*time.Millisecond)) // too short, resets
	require.NoError(t, a.BusyToneDetected(500*time.Millisecond))
	require.NoError(t, a.BusyToneDetected(500*time.Millisecond))
	assert.Empty(t, w.sent, "should not have hung up yet, count was reset")
}

func TestHangupDefersWhileMsgHandlerBusy(t *testing.T) {
	w := &fakeWriter{}
	busy := true
	a := modem.New(cfg(), w, modem.Hooks{IsMsgHandlerBusy: func() bool { return busy }}, nil)

	require.NoError(t, a.Hangup())
	assert.Empty(t, w.sent, "hangup deferred while message handler plays")

	busy = false
	require.NoError(t, a.Hangup())
	assert.Equal(t, []string{"ATH0"}, w.sent)
}

func TestHangupReinitsModemOnOK(t *testing.T) {
	w := &fakeWriter{}
	var lowered bool
	a := modem.New(cfg(), w, modem.Hooks{LowerPhoneLine: func() { lowered = true }}, nil)

	require.NoError(t, a.Hangup())
	require.NoError(t, a.ReplyReceived(modem.ReplyOK))
	assert.True(t, lowered)
	assert.Equal(t, []string{"ATH0", "ATZ"}, w.sent)
	assert.Equal(t, modem.StateIdle, a.State())
}
