package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kc9wx/linkcore/internal/reflector/rewind"
	"github.com/kc9wx/linkcore/internal/reflector/usrp"
)

// reflectorSink is what a transport's receive loop delivers onto the
// single-threaded event loop (§5: "samples from those threads are
// marshalled onto the event loop ... before touching core state").
// logic.Reflector satisfies this directly.
type reflectorSink interface {
	ReceiveVoiceFrame(samples []int16)
	EndOfTransmission()
}

// usrpTransport implements logic.ReflectorTransport over a connected UDP
// socket, encoding each outbound frame per spec §6's USRP wire format.
type usrpTransport struct {
	conn     *net.UDPConn
	tg       uint32
	callsign string
	seq      uint32
	keyed    bool // true while a transmission is in progress
}

func newUsrpTransport(localAddr, remoteAddr, callsign string, tg uint32) (*usrpTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("usrp transport: resolve local %s: %w", localAddr, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("usrp transport: resolve remote %s: %w", remoteAddr, err)
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("usrp transport: dial %s -> %s: %w", localAddr, remoteAddr, err)
	}
	return &usrpTransport{conn: conn, tg: tg, callsign: callsign}, nil
}

// sendSetInfo emits the metadata TEXT packet required ahead of the first
// VOICE packet of a transmission (§4.11, §8 invariant 5).
func (t *usrpTransport) sendSetInfo() error {
	t.seq = usrp.NextSeq(t.seq)
	payload := usrp.EncodeSetInfo(usrp.SetInfo{Tg: t.tg, Callsign: t.callsign})
	hdr := usrp.Header{Seq: t.seq, Tg: t.tg, Type: usrp.TypeText}
	wire, err := usrp.Encode(usrp.Packet{Header: hdr, Payload: payload})
	if err != nil {
		return err
	}
	_, err = t.conn.Write(wire)
	return err
}

func (t *usrpTransport) SendVoiceFrame(samples []int16, keyUp bool) error {
	if keyUp && !t.keyed {
		if err := t.sendSetInfo(); err != nil {
			return err
		}
	}
	t.keyed = keyUp

	t.seq = usrp.NextSeq(t.seq)
	hdr := usrp.Header{Seq: t.seq, Tg: t.tg, Type: usrp.TypeVoice}
	if keyUp {
		hdr.KeyUp = 1
	}
	var payload []byte
	if keyUp && len(samples) > 0 {
		payload = usrp.EncodeVoiceSamples(samples)
	}
	wire, err := usrp.Encode(usrp.Packet{Header: hdr, Payload: payload})
	if err != nil {
		return err
	}
	_, err = t.conn.Write(wire)
	return err
}

func (t *usrpTransport) Close() error { return t.conn.Close() }

// SetTg retunes the talkgroup stamped on future outbound USRP frames,
// driven by a logic.TgMapper listening for CTCSS tones on the Rx path.
func (t *usrpTransport) SetTg(tg int) { t.tg = uint32(tg) }

// runUsrpReceiveLoop reads USRP datagrams off conn and hands decoded
// voice/end-of-transmission events to deliver, a closure that enqueues
// the work onto the main event loop.
func runUsrpReceiveLoop(conn *net.UDPConn, sink reflectorSink, deliver func(func())) {
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		pkt, err := usrp.Decode(buf[:n])
		if err != nil {
			log.Default().Warn("usrp: dropping malformed packet", "err", err)
			continue
		}
		if usrp.IsEndOfTransmission(pkt) {
			deliver(sink.EndOfTransmission)
			continue
		}
		if pkt.Header.Type != usrp.TypeVoice {
			continue
		}
		samples, err := usrp.DecodeVoiceSamples(pkt.Payload)
		if err != nil {
			log.Default().Warn("usrp: dropping bad voice payload", "err", err)
			continue
		}
		deliver(func() { sink.ReceiveVoiceFrame(samples) })
	}
}

// rewindTransport implements logic.ReflectorTransport over a framed TCP
// connection, per spec §6's Rewind wire format, authenticating with the
// CHALLENGE/AUTHENTICATION handshake before the caller starts sending
// voice frames.
type rewindTransport struct {
	conn net.Conn
	seq  uint32
}

// dialRewind connects to addr and completes the password-based handshake
// (rewind.Handshake). Call before constructing a Reflector with the
// resulting transport.
func dialRewind(addr, password string) (*rewindTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("rewind: dial %s: %w", addr, err)
	}
	r := &rewindTransport{conn: conn}

	br := bufio.NewReader(conn)
	challenge, err := readRewindFrame(br)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rewind: read challenge: %w", err)
	}
	hs := rewind.Handshake{Password: password}
	auth, err := hs.BuildAuthentication(challenge, r.nextSeq())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rewind: build authentication: %w", err)
	}
	if _, err := conn.Write(rewind.Encode(auth)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rewind: send authentication: %w", err)
	}
	return r, nil
}

func (t *rewindTransport) nextSeq() uint32 {
	t.seq++
	return t.seq
}

func (t *rewindTransport) SendVoiceFrame(samples []int16, keyUp bool) error {
	if !keyUp {
		_, err := t.conn.Write(rewind.Encode(rewind.Frame{Type: rewind.MsgTalkerStop, Seq: t.nextSeq()}))
		return err
	}
	payload := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.BigEndian.PutUint16(payload[2*i:], uint16(s))
	}
	_, err := t.conn.Write(rewind.Encode(rewind.Frame{Type: rewind.MsgAudio, Seq: t.nextSeq(), Payload: payload}))
	return err
}

func (t *rewindTransport) Close() error { return t.conn.Close() }

// runRewindReceiveLoop reads framed messages off conn, answering
// keep-alives and forwarding audio/talker-stop frames to sink via
// deliver, until the connection closes.
func runRewindReceiveLoop(conn net.Conn, sink reflectorSink, deliver func(func())) {
	br := bufio.NewReader(conn)
	for {
		f, err := readRewindFrame(br)
		if err != nil {
			if err != io.EOF {
				log.Default().Warn("rewind: receive loop ending", "err", err)
			}
			return
		}
		switch f.Type {
		case rewind.MsgKeepAlive:
			_, _ = conn.Write(rewind.Encode(rewind.Frame{Type: rewind.MsgKeepAlive}))
		case rewind.MsgAudio:
			samples := make([]int16, len(f.Payload)/2)
			for i := range samples {
				samples[i] = int16(binary.BigEndian.Uint16(f.Payload[2*i:]))
			}
			deliver(func() { sink.ReceiveVoiceFrame(samples) })
		case rewind.MsgTalkerStop:
			deliver(sink.EndOfTransmission)
		}
	}
}

// readRewindFrame reads one length-prefixed Rewind frame from br. The
// wire format (§6) is fixed-header-then-payload, so unlike usrp (one
// frame per UDP datagram) a TCP stream needs the header parsed first to
// learn how many payload bytes follow.
func readRewindFrame(br *bufio.Reader) (rewind.Frame, error) {
	header := make([]byte, 18) // Signature(8) + type(2) + flags(2) + seq(4) + length(2)
	if _, err := io.ReadFull(br, header); err != nil {
		return rewind.Frame{}, err
	}
	length := binary.LittleEndian.Uint16(header[16:18])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(br, payload); err != nil {
			return rewind.Frame{}, err
		}
	}
	full := append(header, payload...)
	f, _, err := rewind.Decode(full)
	return f, err
}
