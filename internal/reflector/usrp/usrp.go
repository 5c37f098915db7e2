// Package usrp implements the USRP-style UDP packet-voice protocol of
// spec §4.11: a 32-byte fixed header followed by a type-specific payload.
//
// Grounded on the teacher's AGWPEMessage header codec
// (doismellburning-samoyed's src/agwpe.go), which wraps binary.Write/Read
// over a fixed-size header struct the same way this header does.
package usrp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType is the USRP header's type field.
type PacketType uint32

const (
	TypeVoice PacketType = iota
	TypeText
	TypePing
	TypeDtmf
	TypeTlv
)

const (
	magic      = "USRP"
	headerSize = 32
	// VoiceSamples is the fixed frame size of a VOICE payload: 160
	// network-order 16-bit samples (20ms at 8kHz).
	VoiceSamples = 160
)

// Header is the 32-byte USRP fixed header.
type Header struct {
	Seq      uint32
	Memory   uint32
	KeyUp    uint32
	Tg       uint32
	Type     PacketType
	MpxID    uint32
	Reserved uint32
}

// Packet is one decoded USRP datagram.
type Packet struct {
	Header  Header
	Payload []byte
}

// Encode serialises a packet to its wire form: 4-byte "USRP" magic, the
// 28-byte remainder of the header, then the payload verbatim.
func Encode(p Packet) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteString(magic)
	if err := binary.Write(buf, binary.LittleEndian, p.Header.Seq); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Header.Memory); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Header.KeyUp); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Header.Tg); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(p.Header.Type)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Header.MpxID); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Header.Reserved); err != nil {
		return nil, err
	}
	buf.Write(p.Payload)
	return buf.Bytes(), nil
}

// Decode parses a USRP datagram. It returns an error if shorter than the
// fixed header or the magic doesn't match.
func Decode(datagram []byte) (Packet, error) {
	if len(datagram) < headerSize {
		return Packet{}, fmt.Errorf("usrp: short packet (%d bytes)", len(datagram))
	}
	if string(datagram[0:4]) != magic {
		return Packet{}, fmt.Errorf("usrp: bad magic %q", datagram[0:4])
	}
	r := bytes.NewReader(datagram[4:headerSize])
	var h Header
	fields := []*uint32{&h.Seq, &h.Memory, &h.KeyUp, &h.Tg}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Packet{}, err
		}
	}
	var typ uint32
	if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
		return Packet{}, err
	}
	h.Type = PacketType(typ)
	if err := binary.Read(r, binary.LittleEndian, &h.MpxID); err != nil {
		return Packet{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Reserved); err != nil {
		return Packet{}, err
	}
	return Packet{Header: h, Payload: datagram[headerSize:]}, nil
}

// IsEndOfTransmission reports whether a header-only VOICE packet
// (keyUp=false, empty payload) marks the end of a transmission.
func IsEndOfTransmission(p Packet) bool {
	return p.Header.Type == TypeVoice && p.Header.KeyUp == 0 && len(p.Payload) == 0
}

// DecodeVoiceSamples interprets a VOICE payload as network-order 16-bit
// PCM samples.
func DecodeVoiceSamples(payload []byte) ([]int16, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("usrp: odd-length voice payload (%d bytes)", len(payload))
	}
	samples := make([]int16, len(payload)/2)
	r := bytes.NewReader(payload)
	if err := binary.Read(r, binary.BigEndian, samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// EncodeVoiceSamples serialises PCM samples to a VOICE payload.
func EncodeVoiceSamples(samples []int16) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(len(samples) * 2)
	_ = binary.Write(buf, binary.BigEndian, samples)
	return buf.Bytes()
}

// TLV tags used within a TEXT metadata block (a structured set-info
// record per §4.11).
const (
	TlvTagSetInfo byte = 0x08
)

// SetInfo is the structured metadata carried in a TLV-framed TEXT packet:
// DMR id, repeater id, talkgroup, timeslot, colorcode, callsign and free
// text.
type SetInfo struct {
	DmrID      uint32
	RepeaterID uint32
	Tg         uint32
	Timeslot   byte
	ColorCode  byte
	Callsign   string
	FreeText   string
}

// ParseSetInfo decodes a TLV-framed TEXT payload beginning with
// TlvTagSetInfo into a SetInfo record. The wire layout (tag, length,
// value) is: tag(1) len(1) dmrID(4) repeaterID(4) tg(4) timeslot(1)
// colorcode(1) callsignLen(1) callsign(N) freetext(remaining).
func ParseSetInfo(payload []byte) (SetInfo, error) {
	if len(payload) < 2 || payload[0] != TlvTagSetInfo {
		return SetInfo{}, fmt.Errorf("usrp: not a set-info TLV block")
	}
	length := int(payload[1])
	if len(payload) < 2+length {
		return SetInfo{}, fmt.Errorf("usrp: truncated set-info TLV (want %d, have %d)", length, len(payload)-2)
	}
	body := payload[2 : 2+length]
	r := io.Reader(bytes.NewReader(body))
	var info SetInfo
	if err := binary.Read(r, binary.BigEndian, &info.DmrID); err != nil {
		return SetInfo{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &info.RepeaterID); err != nil {
		return SetInfo{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &info.Tg); err != nil {
		return SetInfo{}, err
	}
	rest := body[12:]
	if len(rest) < 3 {
		return SetInfo{}, fmt.Errorf("usrp: truncated set-info tail")
	}
	info.Timeslot = rest[0]
	info.ColorCode = rest[1]
	callsignLen := int(rest[2])
	rest = rest[3:]
	if len(rest) < callsignLen {
		return SetInfo{}, fmt.Errorf("usrp: truncated callsign")
	}
	info.Callsign = string(rest[:callsignLen])
	info.FreeText = string(rest[callsignLen:])
	return info, nil
}

// EncodeSetInfo serialises a SetInfo record into a TLV-framed TEXT
// payload suitable for transmission ahead of the first VOICE packet of a
// transmission.
func EncodeSetInfo(info SetInfo) []byte {
	body := new(bytes.Buffer)
	_ = binary.Write(body, binary.BigEndian, info.DmrID)
	_ = binary.Write(body, binary.BigEndian, info.RepeaterID)
	_ = binary.Write(body, binary.BigEndian, info.Tg)
	body.WriteByte(info.Timeslot)
	body.WriteByte(info.ColorCode)
	body.WriteByte(byte(len(info.Callsign)))
	body.WriteString(info.Callsign)
	body.WriteString(info.FreeText)

	out := new(bytes.Buffer)
	out.WriteByte(TlvTagSetInfo)
	out.WriteByte(byte(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

// NextSeq advances a USRP sequence number modulo 2^15, per §4.11.
func NextSeq(seq uint32) uint32 {
	return (seq + 1) % (1 << 15)
}
