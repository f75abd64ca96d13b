package dtls

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/dtls-server/dtlsd/internal/metrics"
)

// Config is the ambient configuration accept() reads (spec.md §6's
// configuration surface, plus the logging/metrics seams a complete
// deployment needs). The zero Config is valid; Accept fills in defaults.
type Config struct {
	// VerifyRequests controls whether client certificate verification is
	// enforced when a CertificateRequest has been sent. Default true.
	VerifyRequests *bool

	Logger logging.LeveledLogger

	// HandshakeTimeout is the read deadline for the first datagram (the
	// ClientHello) of one accept() call; zero sets none. Later reads use
	// the reliable adapter's own per-flight retransmit timeout, which
	// retransmits and backs off without an overall limit on the handshake.
	HandshakeTimeout time.Duration

	// RecordLayer lets a caller supply its own RecordLayerAdapter instead
	// of the default AES-GCM one; nil uses the default.
	RecordLayer RecordLayerAdapter

	// Metrics, if set, is incremented across the lifetime of each Accept
	// call. Nil disables instrumentation entirely.
	Metrics *metrics.Collectors
}

func (c *Config) verifyRequests() bool {
	if c == nil || c.VerifyRequests == nil {
		return true
	}
	return *c.VerifyRequests
}

func (c *Config) logger() logging.LeveledLogger {
	if c == nil || c.Logger == nil {
		return defaultLogger()
	}
	return c.Logger
}

// Accept implements spec.md §6's public operation: given an established
// datagram transport and a server policy, negotiate one DTLS session and
// return the resulting Transport. Application data on that Transport is
// not record-protected (see Transport.ReadFrom).
//
// conn must already be able to exchange datagrams with exactly one peer
// for the duration of the handshake (spec.md §1: "given an established
// datagram transport"); a net.PacketConn bound via net.ListenUDP works
// because the first ClientHello's source address pins the peer for the
// rest of the exchange.
func Accept(policy ServerPolicy, conn net.PacketConn, config *Config) (*Transport, error) {
	if policy == nil || conn == nil {
		return nil, fmt.Errorf("%w: policy and conn must be non-nil", errInvalidArgument)
	}

	start := time.Now()
	if config.metricsOrNil() != nil {
		config.Metrics.HandshakesStarted.Inc()
	}
	observeFailure := func(err error) error {
		if m := config.metricsOrNil(); m != nil {
			label := "transport_error"
			if a, ok := err.(*Alert); ok {
				label = fmt.Sprintf("%s", a.Description)
			}
			m.HandshakesFailed.WithLabelValues(label).Inc()
		}
		return err
	}

	hs := newServerHandshakeState(policy)
	defer hs.destroy()
	hs.verifyRequests = config.verifyRequests()

	if err := policy.Init(hs.context); err != nil {
		return nil, observeFailure(alertInternalError(err))
	}

	if config.handshakeTimeout() > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(config.handshakeTimeout())); err != nil {
			return nil, observeFailure(fmt.Errorf("dtls.accept: set deadline: %w", err))
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, 16384)
	n, peer, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, observeFailure(fmt.Errorf("dtls.accept: initial read: %w", err))
	}
	discoveredVersion := discoverRecordVersion(buf[:n])

	recordLayer := config.recordLayer(conn, peer, discoveredVersion)
	log := config.logger()
	reliable := newDefaultReliableHandshake(conn, peer, log)

	io := &driverIO{reliable: reliable, recordLayer: recordLayer, log: log}

	firstType, firstBody, ok, perr := reliable.processRecord(buf[:n])
	if perr != nil {
		if a, isAlert := perr.(*Alert); isAlert {
			_ = recordLayer.WriteAlert(a)
		}
		return nil, observeFailure(perr)
	}
	if !ok {
		firstType, firstBody = 0, nil
	}
	if err := runHandshake(hs, io, firstType, firstBody); err != nil {
		return nil, observeFailure(err)
	}

	if m := config.metricsOrNil(); m != nil {
		m.HandshakesComplete.Inc()
		m.HandshakeDuration.Observe(time.Since(start).Seconds())
	}

	return &Transport{
		conn:           conn,
		peer:           peer,
		record:         recordLayer,
		policy:         policy,
		verifyRequests: config.verifyRequests(),
	}, nil
}

func (c *Config) metricsOrNil() *metrics.Collectors {
	if c == nil {
		return nil
	}
	return c.Metrics
}

func (c *Config) handshakeTimeout() time.Duration {
	if c == nil {
		return 0
	}
	return c.HandshakeTimeout
}

func (c *Config) recordLayer(conn net.PacketConn, peer net.Addr, discovered ProtocolVersion) RecordLayerAdapter {
	if c != nil && c.RecordLayer != nil {
		return c.RecordLayer
	}
	return newDefaultRecordLayer(conn, peer, discovered)
}

// discoverRecordVersion reads the DTLS record header's version field
// (spec.md §4.1, WaitClientHello: "capture record-layer's discovered peer
// version"), defaulting to VersionDTLS12 if the datagram is too short to
// tell (the driver will reject the ClientHello body itself shortly after).
func discoverRecordVersion(rec []byte) ProtocolVersion {
	if len(rec) < 3 {
		return VersionDTLS12
	}
	return ProtocolVersion(uint16(rec[1])<<8 | uint16(rec[2]))
}
