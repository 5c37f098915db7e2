package dtmfagg_test

import (
	"testing"
	"time"

	"github.com/kc9wx/linkcore/internal/dtmfagg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func feed(a *dtmfagg.Aggregator, digits string, now time.Time) {
	for i := 0; i < len(digits); i++ {
		a.DigitReceived(digits[i], now)
	}
}

func TestSimpleCommandTerminatesOnHash(t *testing.T) {
	a := dtmfagg.New()
	var got string
	a.OnCommandComplete(func(cmd string) { got = cmd })
	feed(a, "99#", time.Unix(0, 0))
	assert.Equal(t, "99", got)
	assert.Equal(t, "", a.Buffer())
}

func TestAntiFlutterDedupesConsecutiveDuplicates(t *testing.T) {
	a := dtmfagg.New()
	now := time.Unix(0, 0)
	a.DigitReceived('A', now)
	assert.True(t, a.AntiFlutter())
	feed(a, "1122334", now)
	assert.Equal(t, "1234", a.Buffer())
}

func TestAntiFlutterBCommitsPrevDigit(t *testing.T) {
	a := dtmfagg.New()
	now := time.Unix(0, 0)
	a.DigitReceived('A', now)
	a.DigitReceived('5', now)
	a.DigitReceived('B', now)
	assert.Equal(t, "55", a.Buffer())
}

func TestCCompletesOnlyInAntiFlutter(t *testing.T) {
	a := dtmfagg.New()
	now := time.Unix(0, 0)
	var completed bool
	a.OnCommandComplete(func(string) { completed = true })
	a.DigitReceived('1', now)
	a.DigitReceived('C', now)
	assert.False(t, completed)
	assert.Equal(t, "1", a.Buffer()) // 'C' outside anti-flutter mode is not a recognised digit

	a2 := dtmfagg.New()
	a2.OnCommandComplete(func(string) { completed = true })
	completed = false
	a2.DigitReceived('A', now)
	a2.DigitReceived('1', now)
	a2.DigitReceived('C', now)
	assert.True(t, completed)
}

func TestDReplacesBuffer(t *testing.T) {
	a := dtmfagg.New()
	now := time.Unix(0, 0)
	feed(a, "123", now)
	a.DigitReceived('D', now)
	assert.Equal(t, "D", a.Buffer())
}

func TestHEscapesHash(t *testing.T) {
	a := dtmfagg.New()
	now := time.Unix(0, 0)
	a.DigitReceived('H', now)
	assert.Equal(t, "#", a.Buffer())
}

func TestStarDedupedAtBufferStart(t *testing.T) {
	a := dtmfagg.New()
	now := time.Unix(0, 0)
	a.DigitReceived('*', now)
	a.DigitReceived('*', now)
	assert.Equal(t, "*", a.Buffer())
}

// Invariant 2: buffer length is capped at 20, rapid-checked with
// arbitrary digit streams including non-terminating ones.
func TestBufferNeverExceeds20(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := dtmfagg.New()
		now := time.Unix(0, 0)
		alphabet := []byte("0123456789*ABD")
		n := rapid.IntRange(0, 200).Draw(rt, "n")
		for i := 0; i < n; i++ {
			d := alphabet[rapid.IntRange(0, len(alphabet)-1).Draw(rt, "d")]
			a.DigitReceived(d, now)
			require.LessOrEqual(rt, len(a.Buffer()), 20)
		}
	})
}

// B2: inter-digit timeout of exactly 10s with no further digit clears the
// buffer and anti-flutter without emitting a completion.
func TestInterDigitTimeoutClearsWithoutCompleting(t *testing.T) {
	a := dtmfagg.New()
	var completed bool
	a.OnCommandComplete(func(string) { completed = true })
	start := time.Unix(0, 0)
	a.DigitReceived('A', start)
	a.DigitReceived('1', start)
	a.Poll(start.Add(9999 * time.Millisecond))
	assert.Equal(t, "1", a.Buffer())
	a.Poll(start.Add(10000 * time.Millisecond))
	assert.Equal(t, "", a.Buffer())
	assert.False(t, a.AntiFlutter())
	assert.False(t, completed)
}

// R3: Reset is idempotent.
func TestResetIdempotent(t *testing.T) {
	a := dtmfagg.New()
	now := time.Unix(0, 0)
	feed(a, "A12", now)
	a.Reset()
	a.Reset()
	assert.Equal(t, "", a.Buffer())
	assert.False(t, a.AntiFlutter())
}

func TestForceComplete(t *testing.T) {
	a := dtmfagg.New()
	now := time.Unix(0, 0)
	var got string
	a.OnCommandComplete(func(cmd string) { got = cmd })
	feed(a, "42", now)
	a.ForceComplete()
	assert.Equal(t, "42", got)
	assert.Equal(t, "", a.Buffer())
	// Idempotent when buffer already empty: no re-fire.
	got = ""
	a.ForceComplete()
	assert.Equal(t, "", got)
}
