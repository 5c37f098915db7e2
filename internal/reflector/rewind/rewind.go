// Package rewind implements the Rewind-style framed packet-voice protocol
// of spec §4.11: an 8-byte "REWIND01" signature followed by a 16-bit
// type, 16-bit flags, 32-bit sequence, 16-bit length, then a
// type-specific payload.
//
// Grounded on the teacher's AGWPEMessage fixed-header-plus-payload codec
// (doismellburning-samoyed's src/agwpe.go), and on the original svxlink
// Rewind reflector client/server handshake (original_source/) for the
// challenge/authentication/keep-alive message sequencing.
package rewind

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	Signature = "REWIND01"
	headerLen = 8 + 2 + 2 + 4 + 2

	// KeepAliveInterval is the server/client keep-alive cadence.
	KeepAliveInterval = 5 * time.Second
)

// MsgType is the Rewind frame's 16-bit type field.
type MsgType uint16

// Values match original_source/Rewind.h's REWIND_TYPE_* #defines exactly
// for the control-class messages (spec §8 S5 gives CHALLENGE=0x0002,
// AUTHENTICATION=0x0003 as literal wire values); the audio/talker types
// are the DMR-class application message types the reflector's voice path
// rides on (REWIND_TYPE_DMR_START_FRAME/STOP_FRAME/AUDIO_FRAME).
const (
	MsgKeepAlive      MsgType = 0 // REWIND_TYPE_KEEP_ALIVE
	MsgClose          MsgType = 1 // REWIND_TYPE_CLOSE
	MsgChallenge      MsgType = 2 // REWIND_TYPE_CHALLENGE
	MsgAuthentication MsgType = 3 // REWIND_TYPE_AUTHENTICATION

	MsgTalkerStart MsgType = 0x0911 // REWIND_TYPE_DMR_START_FRAME
	MsgTalkerStop  MsgType = 0x0912 // REWIND_TYPE_DMR_STOP_FRAME
	MsgAudio       MsgType = 0x0920 // REWIND_TYPE_DMR_AUDIO_FRAME
)

// Flags is the frame's 16-bit flags field; currently unused by any
// defined message but carried through intact.
type Flags uint16

// Frame is one decoded Rewind message.
type Frame struct {
	Type    MsgType
	Flags   Flags
	Seq     uint32
	Payload []byte
}

// Encode serialises a frame to its wire form.
func Encode(f Frame) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(Signature)
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Type))
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Flags))
	_ = binary.Write(buf, binary.LittleEndian, f.Seq)
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(f.Payload)))
	buf.Write(f.Payload)
	return buf.Bytes()
}

// Decode parses one Rewind frame from the front of data, returning the
// frame and the number of bytes consumed. Returns an error if data is too
// short to contain a complete frame or the signature doesn't match.
func Decode(data []byte) (Frame, int, error) {
	if len(data) < headerLen {
		return Frame{}, 0, fmt.Errorf("rewind: short frame (%d bytes)", len(data))
	}
	if string(data[0:8]) != Signature {
		return Frame{}, 0, fmt.Errorf("rewind: bad signature %q", data[0:8])
	}
	typ := binary.LittleEndian.Uint16(data[8:10])
	flags := binary.LittleEndian.Uint16(data[10:12])
	seq := binary.LittleEndian.Uint32(data[12:16])
	length := int(binary.LittleEndian.Uint16(data[16:18]))
	total := headerLen + length
	if len(data) < total {
		return Frame{}, 0, fmt.Errorf("rewind: truncated payload (want %d, have %d)", length, len(data)-headerLen)
	}
	return Frame{Type: MsgType(typ), Flags: Flags(flags), Seq: seq, Payload: data[headerLen:total]}, total, nil
}

// ComputeAuthResponse implements the AUTHENTICATION payload contract:
// SHA-256(salt || password).
func ComputeAuthResponse(salt []byte, password string) [sha256.Size]byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Handshake drives the client side of the CHALLENGE/AUTHENTICATION
// exchange over a frame reader/writer pair; the transport itself (a TCP
// or framed UDP connection) is an external collaborator per §1 non-goals.
type Handshake struct {
	Password string
}

// BuildAuthentication consumes a CHALLENGE frame's salt payload and
// returns the AUTHENTICATION frame to send in response.
func (h Handshake) BuildAuthentication(challenge Frame, seq uint32) (Frame, error) {
	if challenge.Type != MsgChallenge {
		return Frame{}, fmt.Errorf("rewind: expected CHALLENGE, got type %d", challenge.Type)
	}
	resp := ComputeAuthResponse(challenge.Payload, h.Password)
	return Frame{Type: MsgAuthentication, Seq: seq, Payload: resp[:]}, nil
}

// KeepAliveTracker arms/observes the 5s keep-alive cadence and reports
// when the peer should be considered dead (two missed intervals).
type KeepAliveTracker struct {
	lastSeen time.Time
	now      func() time.Time
}

// NewKeepAliveTracker returns a tracker seeded as "alive" at construction
// time.
func NewKeepAliveTracker(now func() time.Time) *KeepAliveTracker {
	if now == nil {
		now = time.Now
	}
	return &KeepAliveTracker{lastSeen: now(), now: now}
}

// Received records a keep-alive (or any frame, which also counts as
// liveness) from the peer.
func (k *KeepAliveTracker) Received() { k.lastSeen = k.now() }

// IsDead reports whether more than 2*KeepAliveInterval has elapsed since
// the last frame was seen from the peer.
func (k *KeepAliveTracker) IsDead() bool {
	return k.now().Sub(k.lastSeen) > 2*KeepAliveInterval
}
