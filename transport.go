package dtls

import (
	"fmt"
	"net"
)

// Transport is the datagram channel accept() returns after a completed
// handshake (spec.md §6): the record layer plus the server policy object
// that negotiated it, with the handshake scratchpad discarded (spec.md
// §3, "Lifecycle"). Application data read and written through it is not
// encrypted or authenticated; see ReadFrom.
type Transport struct {
	conn   net.PacketConn
	peer   net.Addr
	record RecordLayerAdapter
	policy ServerPolicy

	verifyRequests bool
}

// ReadFrom reads one application-data datagram straight from the
// underlying connection. Record-layer decryption/unprotection is a
// Non-goal of this driver (spec.md §1): neither the default
// RecordLayerAdapter nor a caller-supplied one is consulted by ReadFrom
// or WriteTo, so data passes exactly as sent.
func (t *Transport) ReadFrom(b []byte) (int, net.Addr, error) {
	return t.conn.ReadFrom(b)
}

func (t *Transport) WriteTo(b []byte) (int, error) {
	return t.conn.WriteTo(b, t.peer)
}

func (t *Transport) RemoteAddr() net.Addr { return t.peer }

// Close tears down the record layer's key material and closes the
// underlying transport.
func (t *Transport) Close() error {
	if err := t.record.Close(); err != nil {
		return err
	}
	if c, ok := t.conn.(ioCloser); ok {
		return c.Close()
	}
	return nil
}

type ioCloser interface{ Close() error }

// GetVerifyRequests reports the verify_requests setting
// (Config.VerifyRequests, default true) that the handshake producing t
// ran with. SetVerifyRequests changes only this stored value: it does not
// affect the completed handshake, and nothing else on Transport reads it.
func (t *Transport) GetVerifyRequests() bool { return t.verifyRequests }

func (t *Transport) SetVerifyRequests(v bool) { t.verifyRequests = v }

var errInvalidArgument = fmt.Errorf("dtls: invalid_argument")
