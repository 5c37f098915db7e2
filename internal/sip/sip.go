// Package sip wraps an emiago/sipgo user agent into the Account/Call
// registration and INVITE/BYE surface spec §4.10's SIP logic core drives.
// The pjmedia-style audio bridge itself stays an external collaborator
// per §1's non-goals — this package only supplies signalling. media.go
// holds an RTP media port shim (RTP codec via pion/rtp, A-law/u-law
// transcoding via zaf/g711, resampling via tphakala/go-audio-resampler);
// no code in the repository assigns it to a Call's Media field.
//
// Grounded on blitss-sip-tg-bridge's bridge/service.go call-handling flow,
// re-expressed directly against sipgo rather than its diago wrapper since
// diago's own media bridge duplicates the non-goal boundary.
package sip

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// CallState is a Call's position in the §4.10 Data Model state machine.
type CallState int

const (
	CallIncoming CallState = iota
	CallCalling
	CallEarly
	CallConnecting
	CallConfirmed
	CallDisconnected
)

func (s CallState) String() string {
	switch s {
	case CallIncoming:
		return "incoming"
	case CallCalling:
		return "calling"
	case CallEarly:
		return "early"
	case CallConnecting:
		return "connecting"
	case CallConfirmed:
		return "confirmed"
	case CallDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MediaPort is the 16-bit mono PCM media leg a Call can carry in its
// Media field; internal/logic/sip.go does not bridge it onto the logic's
// audio graph.
type MediaPort interface {
	WriteSamples(samples []int16) // to the far end
	ReadSamples(buf []int16) (n int, err error)
	Close() error
}

// Call is one SIP dialog, incoming or outgoing.
type Call struct {
	ID         string
	RemoteURI  string
	State      CallState
	HasMedia   bool
	Media      MediaPort
	startedAt  time.Time
	tx         sip.ClientTransaction
	serverTx   sip.ServerTransaction
	inviteReq  *sip.Request
}

// AccountConfig configures registration to a SIP proxy.
type AccountConfig struct {
	User        string
	Password    string
	Proxy       string // host:port
	Transport   string // "udp", "tcp", "tls"
	RegExpires  time.Duration
	ListenAddr  string
}

// Account owns a sipgo user agent, the server side that accepts INVITEs,
// and the client side that places outgoing calls and REGISTERs with the
// configured proxy.
type Account struct {
	cfg    AccountConfig
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	onIncoming func(call *Call)
	calls      map[string]*Call
}

// NewAccount builds the user agent and wires INVITE/BYE handlers; it does
// not yet listen or register (see ListenAndServe/Register).
func NewAccount(cfg AccountConfig, onIncoming func(call *Call)) (*Account, error) {
	if cfg.RegExpires == 0 {
		cfg.RegExpires = 1 * time.Hour
	}
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.User))
	if err != nil {
		return nil, fmt.Errorf("sip: new user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("sip: new server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("sip: new client: %w", err)
	}

	a := &Account{cfg: cfg, ua: ua, srv: srv, client: client, onIncoming: onIncoming, calls: make(map[string]*Call)}

	srv.OnInvite(func(req *sip.Request, tx sip.ServerTransaction) {
		call := &Call{
			ID:        uuid.NewString(),
			RemoteURI: req.From().Address.String(),
			State:     CallIncoming,
			startedAt: time.Now(),
			serverTx:  tx,
			inviteReq: req,
		}
		a.calls[call.ID] = call
		if a.onIncoming != nil {
			a.onIncoming(call)
		}
	})
	srv.OnBye(func(req *sip.Request, tx sip.ServerTransaction) {
		for _, call := range a.calls {
			if call.inviteReq != nil && call.inviteReq.CallID().Value() == req.CallID().Value() {
				call.State = CallDisconnected
				delete(a.calls, call.ID)
			}
		}
		res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
		_ = tx.Respond(res)
	})

	return a, nil
}

// ListenAndServe runs the server side in the background; cancel ctx to
// stop it.
func (a *Account) ListenAndServe(ctx context.Context) error {
	transport := a.cfg.Transport
	if transport == "" {
		transport = "udp"
	}
	return a.srv.ListenAndServe(ctx, transport, a.cfg.ListenAddr)
}

// Register sends one REGISTER to the configured proxy; nothing in this
// package repeats it before cfg.RegExpires runs out.
func (a *Account) Register(ctx context.Context) error {
	recipient := sip.Uri{User: a.cfg.User, Host: a.cfg.Proxy}
	req := sip.NewRequest(sip.REGISTER, recipient)
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", int(a.cfg.RegExpires.Seconds()))))
	tx, err := a.client.TransactionRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("sip: register: %w", err)
	}
	defer tx.Terminate()
	res, err := sipResponse(ctx, tx)
	if err != nil {
		return err
	}
	if res.StatusCode != sip.StatusOK {
		return fmt.Errorf("sip: register rejected: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

func sipResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case res := <-tx.Responses():
		return res, nil
	case <-tx.Done():
		return nil, fmt.Errorf("sip: transaction terminated without a final response")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial places an outgoing call to destURI (e.g. "sip:5551234@pbx.local").
func (a *Account) Dial(ctx context.Context, destURI string) (*Call, error) {
	uri, err := sip.ParseUri(destURI)
	if err != nil {
		return nil, fmt.Errorf("sip: invalid destination uri: %w", err)
	}
	req := sip.NewRequest(sip.INVITE, uri)
	tx, err := a.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sip: invite: %w", err)
	}
	call := &Call{ID: uuid.NewString(), RemoteURI: destURI, State: CallCalling, startedAt: time.Now(), tx: tx, inviteReq: req}
	a.calls[call.ID] = call
	return call, nil
}

// Answer accepts an incoming call with a 200 OK.
func (a *Account) Answer(call *Call) error {
	if call.serverTx == nil {
		return fmt.Errorf("sip: call %s has no pending server transaction", call.ID)
	}
	res := sip.NewResponseFromRequest(call.inviteReq, sip.StatusOK, "OK", nil)
	if err := call.serverTx.Respond(res); err != nil {
		return err
	}
	call.State = CallConfirmed
	call.HasMedia = true
	return nil
}

// Reject declines an incoming call without answering.
func (a *Account) Reject(call *Call, code sip.StatusCode, reason string) error {
	if call.serverTx == nil {
		return nil
	}
	res := sip.NewResponseFromRequest(call.inviteReq, code, reason, nil)
	delete(a.calls, call.ID)
	return call.serverTx.Respond(res)
}

// Hangup sends a BYE whatever the call's state (no CANCEL is sent for a
// call not yet answered) and drops the call from the registry.
func (a *Account) Hangup(ctx context.Context, call *Call) error {
	defer delete(a.calls, call.ID)
	call.State = CallDisconnected
	if call.Media != nil {
		_ = call.Media.Close()
	}
	if call.inviteReq == nil {
		return nil
	}
	req := sip.NewRequest(sip.BYE, call.inviteReq.Recipient)
	tx, err := a.client.TransactionRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("sip: bye: %w", err)
	}
	defer tx.Terminate()
	_, err = sipResponse(ctx, tx)
	return err
}

// Calls returns a snapshot of all calls currently tracked.
func (a *Account) Calls() []*Call {
	out := make([]*Call, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, c)
	}
	return out
}
