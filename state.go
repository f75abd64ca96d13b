package dtls

import (
	"fmt"

	"github.com/pion/logging"
)

// This file is the Handshake Driver (spec.md §4.1/§4.2): a strictly
// sequential state machine, grounded on the teacher's State interface
// pattern (client-state-machine.go: "type State interface { Next(...)
// (State, []HandshakeAction, Alert) }", conn.go's takeAction dispatch
// loop), but following spec.md §4.1's table of states rather than TLS
// 1.3's client flow, cross-checked against the pion/dtls flight
// handlers' "parse incoming flight, validate, then generate next flight"
// shape (other_examples' flight5handler.go/flight0handler.go).

// state is one node of the server handshake state machine. next is
// handed either a freshly received handshake message, or (when msgType
// is zero) a chance to run driver-internal logic with no peer input —
// the table's "—" input rows (SendServerHelloFlight, SnapshotHash,
// SendServerFinished).
type state interface {
	next(hs *ServerHandshakeState, io *driverIO, msgType HandshakeType, body []byte) (state, *Alert)
}

// driverIO bundles the two external collaborators the driver suspends
// on: the Reliable Handshake Adapter for message exchange/transcript,
// and the Record Layer Adapter for epoch transitions (spec.md §2). log
// is the leveled logger the driver traces every transition, flight, and
// alert through, mirroring the teacher ecosystem's cfg.log.Tracef calls
// at state transitions (other_examples' dtls-handshaker.go,
// "s.cfg.log.Tracef(\"[handshake:%s] %s: %s\", ...)").
type driverIO struct {
	reliable    ReliableHandshakeAdapter
	recordLayer RecordLayerAdapter
	log         logging.LeveledLogger
}

// runHandshake drives states from the initial WaitClientHello to
// Complete, or returns the first fatal alert encountered. It is the
// "accept()" operation's inner loop (spec.md §6); internal ("—" input)
// states are run immediately without consulting the adapter, exactly as
// spec.md §4.1's table shows no Input for them.
//
// firstMsgType/firstBody let the caller hand the driver a ClientHello it
// already had to read off the wire itself (to learn the peer's address
// before any adapter existed to read for it); pass 0/nil to have the
// driver perform its own first ReceiveMessage call.
func runHandshake(hs *ServerHandshakeState, io *driverIO, firstMsgType HandshakeType, firstBody []byte) error {
	var cur state = stateWaitClientHello{}
	pendingMsgType, pendingBody := firstMsgType, firstBody
	havePending := firstMsgType != 0

	for {
		if _, internal := cur.(internalState); internal {
			io.log.Tracef("dtls: %T (internal)", cur)
			next, alert := cur.next(hs, io, 0, nil)
			if alert != nil {
				return failHandshake(io, alert)
			}
			io.log.Tracef("dtls: %T -> %T", cur, next)
			if _, done := next.(stateComplete); done {
				return nil
			}
			cur = next
			continue
		}

		var msgType HandshakeType
		var body []byte
		if havePending {
			msgType, body = pendingMsgType, pendingBody
			havePending = false
		} else {
			var err error
			msgType, body, err = io.reliable.ReceiveMessage()
			if err != nil {
				io.log.Errorf("dtls: receiving next handshake message: %s", err)
				return err
			}
		}
		io.log.Tracef("dtls: %T <- %s", cur, msgType)
		next, alert := cur.next(hs, io, msgType, body)
		if alert != nil {
			return failHandshake(io, alert)
		}
		io.log.Tracef("dtls: %T -> %T", cur, next)
		if _, done := next.(stateComplete); done {
			return nil
		}
		cur = next
	}
}

// internalState marks states whose Input column in spec.md §4.1 is "—":
// they run once, immediately, with no message from the peer.
type internalState interface {
	internal()
}

func failHandshake(io *driverIO, a *Alert) error {
	io.log.Errorf("dtls: handshake failed: %s", a)
	_ = io.recordLayer.WriteAlert(a)
	_ = io.recordLayer.Close()
	return a
}

// --- WaitClientHello ---------------------------------------------------

type stateWaitClientHello struct{}

func (stateWaitClientHello) next(hs *ServerHandshakeState, io *driverIO, msgType HandshakeType, body []byte) (state, *Alert) {
	if msgType != HandshakeTypeClientHello {
		return nil, alertUnexpectedMessage(fmt.Errorf("dtls: expected client_hello, got %s", msgType))
	}

	var ch ClientHelloBody
	n, err := ch.Unmarshal(body)
	if err != nil {
		return nil, alertIllegalParameter(fmt.Errorf("dtls: client_hello: %w", err))
	}
	if err := assertEmpty(body[n:]); err != nil {
		return nil, alertDecodeError(err)
	}
	if !ch.ClientVersion.isDTLS() {
		return nil, alertIllegalParameter(fmt.Errorf("dtls: client_hello: not a DTLS version"))
	}

	hs.context.ClientVersion = ch.ClientVersion
	hs.context.ClientRandom = ch.Random
	hs.cookie = ch.Cookie
	hs.offeredCipherSuites = ch.CipherSuites
	hs.offeredCompressionMethods = ch.CompressionMethods
	hs.clientExtensions = ch.Extensions

	// capture record-layer's discovered peer version as client_version
	// (spec.md §4.1, WaitClientHello)
	if dv := io.recordLayer.DiscoveredPeerVersion(); dv.isDTLS() {
		hs.context.ClientVersion = dv
	}

	if err := hs.server.NotifyClientVersion(hs.context.ClientVersion); err != nil {
		return nil, alertInternalError(err)
	}
	if err := hs.server.NotifyOfferedCipherSuites(hs.offeredCipherSuites); err != nil {
		return nil, alertInternalError(err)
	}
	if err := hs.server.NotifyOfferedCompressionMethods(hs.offeredCompressionMethods); err != nil {
		return nil, alertInternalError(err)
	}

	// Secure-renegotiation check (RFC 5746 §3.6).
	secure := false
	for _, cs := range hs.offeredCipherSuites {
		if cs == TLS_EMPTY_RENEGOTIATION_INFO_SCSV {
			secure = true
			break
		}
	}
	if data, ok := ch.Extensions.Get(ExtensionTypeRenegotiationInfo); ok {
		if !constantTimeEqual(data, []byte{}) {
			return nil, alertHandshakeFailure(fmt.Errorf("dtls: non-empty renegotiation_info on initial handshake"))
		}
		secure = true
	}
	hs.secureRenegotiation = secure
	if err := hs.server.NotifySecureRenegotiation(secure); err != nil {
		return nil, alertInternalError(err)
	}

	if err := hs.server.ProcessClientExtensions(ch.Extensions); err != nil {
		return nil, alertInternalError(err)
	}

	return stateSendServerHelloFlight{}, nil
}

// --- SendServerHelloFlight ----------------------------------------------

type stateSendServerHelloFlight struct{}

func (stateSendServerHelloFlight) internal() {}

func (stateSendServerHelloFlight) next(hs *ServerHandshakeState, io *driverIO, _ HandshakeType, _ []byte) (state, *Alert) {
	serverVersion, err := hs.server.GetServerVersion()
	if err != nil {
		return nil, alertInternalError(err)
	}
	if serverVersion.newer(hs.context.ClientVersion) {
		return nil, alertInternalError(fmt.Errorf("dtls: server_version newer than client_version"))
	}
	hs.context.ServerVersion = serverVersion

	random, err := newRandom32()
	if err != nil {
		return nil, alertInternalError(err)
	}
	hs.context.ServerRandom = random

	selectedSuite, err := hs.server.GetSelectedCipherSuite()
	if err != nil {
		return nil, alertInternalError(err)
	}
	if !containsSuite(hs.offeredCipherSuites, selectedSuite) ||
		selectedSuite == TLS_NULL_WITH_NULL_NULL ||
		selectedSuite == TLS_EMPTY_RENEGOTIATION_INFO_SCSV ||
		!validateSelectedCipherSuite(selectedSuite, serverVersion) {
		return nil, alertInternalError(fmt.Errorf("dtls: selected cipher suite %#04x not valid for this handshake", uint16(selectedSuite)))
	}
	hs.setSelectedCipherSuite(selectedSuite)

	hash, err := hashForCipherSuite(selectedSuite)
	if err != nil {
		return nil, alertInternalError(err)
	}
	hs.context.PRFAlgorithm = hash
	hs.context.VerifyDataLength = 12
	if setter, ok := io.reliable.(hashAlgorithmSetter); ok {
		if err := setter.SetHashAlgorithm(hash); err != nil {
			return nil, alertInternalError(err)
		}
	}

	selectedCompression, err := hs.server.GetSelectedCompressionMethod()
	if err != nil {
		return nil, alertInternalError(err)
	}
	if !containsCompression(hs.offeredCompressionMethods, selectedCompression) {
		return nil, alertInternalError(fmt.Errorf("dtls: selected compression method %d not offered", selectedCompression))
	}
	hs.setSelectedCompression(selectedCompression)
	hs.context.CompressionAlgorithm = selectedCompression

	serverExtensions, err := hs.server.GetServerExtensions()
	if err != nil {
		return nil, alertInternalError(err)
	}
	if hs.secureRenegotiation && !serverExtensions.Has(ExtensionTypeRenegotiationInfo) {
		if err := serverExtensions.Add(ExtensionTypeRenegotiationInfo, []byte{}); err != nil {
			return nil, alertInternalError(err)
		}
	}
	if serverExtensions.Has(ExtensionTypeSessionTicket) {
		hs.expectSessionTicket = true
	}
	hs.serverExtensions = serverExtensions

	sh := ServerHelloBody{
		ServerVersion:     serverVersion,
		Random:            hs.context.ServerRandom,
		SessionID:         nil,
		CipherSuite:       selectedSuite,
		CompressionMethod: selectedCompression,
		Extensions:        serverExtensions,
	}
	if err := io.reliable.SendMessage(HandshakeTypeServerHello, &sh); err != nil {
		return nil, alertInternalError(err)
	}
	if err := io.reliable.NotifyHelloComplete(); err != nil {
		return nil, alertInternalError(err)
	}

	supplemental, err := hs.server.GetServerSupplementalData()
	if err != nil {
		return nil, alertInternalError(err)
	}
	if len(supplemental) > 0 {
		if err := io.reliable.SendMessage(HandshakeTypeSupplementalData, &SupplementalDataBody{Entries: supplemental}); err != nil {
			return nil, alertInternalError(err)
		}
	}

	kx, err := hs.server.GetKeyExchange()
	if err != nil {
		return nil, alertInternalError(err)
	}
	if err := kx.Init(hs.context); err != nil {
		return nil, alertInternalError(err)
	}
	hs.keyExchange = kx

	creds, err := hs.server.GetCredentials()
	if err != nil {
		return nil, alertInternalError(err)
	}
	if creds != nil {
		var certList CertificateBody
		for _, c := range creds.Chain {
			cert, perr := parseDERCertificate(c.Raw)
			if perr != nil {
				return nil, alertInternalError(perr)
			}
			certList.CertificateList = append(certList.CertificateList, cert)
		}
		if err := io.reliable.SendMessage(HandshakeTypeCertificate, &certList); err != nil {
			return nil, alertInternalError(err)
		}
		if err := kx.ProcessServerCredentials(creds); err != nil {
			return nil, alertInternalError(err)
		}
	} else {
		if err := kx.SkipServerCredentials(); err != nil {
			return nil, alertInternalError(err)
		}
	}

	ske, err := kx.GenerateServerKeyExchange()
	if err != nil {
		return nil, alertInternalError(err)
	}
	if ske != nil {
		if err := io.reliable.SendMessage(HandshakeTypeServerKeyExchange, ske); err != nil {
			return nil, alertInternalError(err)
		}
	}

	if creds != nil {
		certReq, err := hs.server.GetCertificateRequest()
		if err != nil {
			return nil, alertInternalError(err)
		}
		if certReq != nil {
			if err := kx.ValidateCertificateRequest(certReq); err != nil {
				return nil, alertInternalError(err)
			}
			if err := io.reliable.SendMessage(HandshakeTypeCertificateRequest, certReq); err != nil {
				return nil, alertInternalError(err)
			}
			hs.certificateRequest = certReq
		}
	}

	if err := io.reliable.SendMessage(HandshakeTypeServerHelloDone, &serverHelloDoneBody{}); err != nil {
		return nil, alertInternalError(err)
	}
	io.log.Debugf("dtls: sent server hello flight (suite %#04x)", uint16(selectedSuite))

	return stateWaitClientFlight1{}, nil
}

// serverHelloDoneBody is the empty-bodied ServerHelloDone message (RFC
// 5246 §7.4.5: "struct { } ServerHelloDone;").
type serverHelloDoneBody struct{}

func (serverHelloDoneBody) Type() HandshakeType         { return HandshakeTypeServerHelloDone }
func (serverHelloDoneBody) Marshal() ([]byte, error)    { return nil, nil }
func (*serverHelloDoneBody) Unmarshal([]byte) (int, error) { return 0, nil }

func containsSuite(suites []CipherSuite, s CipherSuite) bool {
	for _, c := range suites {
		if c == s {
			return true
		}
	}
	return false
}

func containsCompression(methods []CompressionMethod, m CompressionMethod) bool {
	for _, c := range methods {
		if c == m {
			return true
		}
	}
	return false
}

// --- WaitClientFlight1 / WaitClientFlight1' ------------------------------

type stateWaitClientFlight1 struct{}

func (stateWaitClientFlight1) next(hs *ServerHandshakeState, io *driverIO, msgType HandshakeType, body []byte) (state, *Alert) {
	if msgType == HandshakeTypeSupplementalData {
		var sd SupplementalDataBody
		n, err := sd.Unmarshal(body)
		if err != nil {
			return nil, alertDecodeError(err)
		}
		if err := assertEmpty(body[n:]); err != nil {
			return nil, alertDecodeError(err)
		}
		if err := hs.server.ProcessClientSupplementalData(sd.Entries); err != nil {
			return nil, alertInternalError(err)
		}
		return stateWaitClientFlight1Prime{}, nil
	}

	// "any other: deliver null supplemental data to policy, re-dispatch"
	if err := hs.server.ProcessClientSupplementalData(nil); err != nil {
		return nil, alertInternalError(err)
	}
	return stateWaitClientFlight1Prime{}.next(hs, io, msgType, body)
}

type stateWaitClientFlight1Prime struct{}

func (stateWaitClientFlight1Prime) next(hs *ServerHandshakeState, io *driverIO, msgType HandshakeType, body []byte) (state, *Alert) {
	if msgType == HandshakeTypeCertificate {
		if hs.certificateRequest == nil {
			return nil, alertUnexpectedMessage(fmt.Errorf("dtls: client certificate sent but none requested"))
		}
		var cert CertificateBody
		n, err := cert.Unmarshal(body)
		if err != nil {
			return nil, alertDecodeError(err)
		}
		if err := assertEmpty(body[n:]); err != nil {
			return nil, alertDecodeError(err)
		}
		if err := hs.keyExchange.ProcessClientCertificate(&cert); err != nil {
			return nil, alertInternalError(err)
		}
		return stateWaitClientKeyExchange{}, nil
	}

	// "any other: skip client credentials in key_exchange" — re-dispatch
	// the current message to WaitClientKeyExchange.
	if err := hs.keyExchange.SkipClientCredentials(); err != nil {
		return nil, alertInternalError(err)
	}
	return stateWaitClientKeyExchange{}.next(hs, io, msgType, body)
}

// --- WaitClientKeyExchange -----------------------------------------------

type stateWaitClientKeyExchange struct{}

func (stateWaitClientKeyExchange) next(hs *ServerHandshakeState, io *driverIO, msgType HandshakeType, body []byte) (state, *Alert) {
	if msgType != HandshakeTypeClientKeyExchange {
		return nil, alertUnexpectedMessage(fmt.Errorf("dtls: expected client_key_exchange, got %s", msgType))
	}
	var cke ClientKeyExchangeBody
	n, err := cke.Unmarshal(body)
	if err != nil {
		return nil, alertDecodeError(err)
	}
	if err := assertEmpty(body[n:]); err != nil {
		return nil, alertDecodeError(err)
	}
	if err := hs.keyExchange.ProcessClientKeyExchange(cke.Raw); err != nil {
		return nil, alertInternalError(err)
	}

	preMaster, err := hs.keyExchange.PreMasterSecret()
	if err != nil {
		return nil, alertInternalError(err)
	}
	hs.context.MasterSecret = masterSecret(hs.context.PRFAlgorithm, preMaster, hs.context.ClientRandom, hs.context.ServerRandom)

	cipher, err := hs.server.GetCipher()
	if err != nil {
		return nil, alertInternalError(err)
	}
	// The pending cipher must be installed between ClientKeyExchange
	// processing and reception of the client's Finished (spec.md §4.1),
	// so the Finished arrives under the freshly negotiated epoch.
	if err := io.recordLayer.InitPendingEpoch(cipher, hs.context); err != nil {
		return nil, alertInternalError(err)
	}

	return stateSnapshotHash{}, nil
}

// --- SnapshotHash ----------------------------------------------------------

type stateSnapshotHash struct{}

func (stateSnapshotHash) internal() {}

func (stateSnapshotHash) next(hs *ServerHandshakeState, io *driverIO, _ HandshakeType, _ []byte) (state, *Alert) {
	h, err := io.reliable.GetCurrentHash()
	if err != nil {
		return nil, alertInternalError(err)
	}
	hs.clientFinishedHash = h
	return stateWaitCertificateVerifyOrFinished{}, nil
}

// --- WaitCertificateVerifyOrFinished / WaitFinished ------------------------

type stateWaitCertificateVerifyOrFinished struct{}

func (stateWaitCertificateVerifyOrFinished) next(hs *ServerHandshakeState, io *driverIO, msgType HandshakeType, body []byte) (state, *Alert) {
	switch msgType {
	case HandshakeTypeCertificateVerify:
		var cv CertificateVerifyBody
		if _, err := cv.Unmarshal(body); err != nil {
			return nil, alertDecodeError(err)
		}
		h, err := io.reliable.GetCurrentHash()
		if err != nil {
			return nil, alertInternalError(err)
		}
		hs.clientFinishedHash = h
		hs.certificateVerifySeen = true
		return stateWaitFinished{}, nil

	case HandshakeTypeFinished:
		// spec.md §6's verify_requests: once a CertificateRequest was sent,
		// a CertificateVerify is mandatory before Finished is accepted —
		// refusing to silently fall back to an unauthenticated client.
		if hs.certificateRequest != nil && hs.verifyRequests && !hs.certificateVerifySeen {
			return nil, alertUnexpectedMessage(fmt.Errorf("dtls: finished received before required certificate_verify"))
		}
		if err := checkNegotiatedAndVerifyFinished(hs, body); err != nil {
			return nil, err
		}
		return stateSendServerFinished{}, nil

	default:
		return nil, alertUnexpectedMessage(fmt.Errorf("dtls: expected certificate_verify or finished, got %s", msgType))
	}
}

type stateWaitFinished struct{}

// next is only reached via WaitCertificateVerifyOrFinished's
// CertificateVerify branch, which always sets certificateVerifySeen
// first, so verify_requests needs no repeat check here.
func (stateWaitFinished) next(hs *ServerHandshakeState, io *driverIO, msgType HandshakeType, body []byte) (state, *Alert) {
	if msgType != HandshakeTypeFinished {
		return nil, alertUnexpectedMessage(fmt.Errorf("dtls: expected finished, got %s", msgType))
	}
	if err := checkNegotiatedAndVerifyFinished(hs, body); err != nil {
		return nil, err
	}
	return stateSendServerFinished{}, nil
}

// checkNegotiatedAndVerifyFinished validates invariant 1 (spec.md §3),
// then verifies the client's Finished verify_data against the snapshot
// taken in SnapshotHash (or re-taken after CertificateVerify).
func checkNegotiatedAndVerifyFinished(hs *ServerHandshakeState, body []byte) *Alert {
	if err := hs.checkNegotiated(); err != nil {
		if a, ok := err.(*Alert); ok {
			return a
		}
		return alertInternalError(err)
	}

	fin := FinishedBody{VerifyDataLen: hs.context.VerifyDataLength}
	n, err := fin.Unmarshal(body)
	if err != nil {
		return alertDecodeError(err)
	}
	if err := assertEmpty(body[n:]); err != nil {
		return alertDecodeError(err)
	}

	expected := verifyData(hs.context.PRFAlgorithm, hs.context.MasterSecret, finishedLabelClient, hs.clientFinishedHash, hs.context.VerifyDataLength)
	if !constantTimeEqual(expected, fin.VerifyData) {
		return alertDecryptError(fmt.Errorf("dtls: client finished verify_data mismatch"))
	}
	return nil
}

// --- SendServerFinished -----------------------------------------------------

type stateSendServerFinished struct{}

func (stateSendServerFinished) internal() {}

func (stateSendServerFinished) next(hs *ServerHandshakeState, io *driverIO, _ HandshakeType, _ []byte) (state, *Alert) {
	if hs.expectSessionTicket {
		ticket, err := hs.server.GetNewSessionTicket()
		if err != nil {
			return nil, alertInternalError(err)
		}
		if ticket != nil {
			if err := io.reliable.SendMessage(HandshakeTypeNewSessionTicket, ticket); err != nil {
				return nil, alertInternalError(err)
			}
		}
	}

	currentHash, err := io.reliable.GetCurrentHash()
	if err != nil {
		return nil, alertInternalError(err)
	}
	serverVerify := verifyData(hs.context.PRFAlgorithm, hs.context.MasterSecret, finishedLabelServer, currentHash, hs.context.VerifyDataLength)

	fin := FinishedBody{VerifyDataLen: hs.context.VerifyDataLength, VerifyData: serverVerify}
	if err := io.reliable.SendMessage(HandshakeTypeFinished, &fin); err != nil {
		return nil, alertInternalError(err)
	}

	if err := io.recordLayer.ActivateEpoch(); err != nil {
		return nil, alertInternalError(err)
	}
	if err := io.reliable.Finish(); err != nil {
		return nil, alertInternalError(err)
	}
	if err := hs.server.NotifyHandshakeComplete(); err != nil {
		return nil, alertInternalError(err)
	}
	io.log.Debugf("dtls: sent server finished flight, handshake complete")

	return stateComplete{}, nil
}

type stateComplete struct{}

func (stateComplete) next(*ServerHandshakeState, *driverIO, HandshakeType, []byte) (state, *Alert) {
	return stateComplete{}, nil
}
