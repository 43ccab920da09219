package main

import (
	"net"
	"sync"

	"github.com/m-lab/rdmtp/bufpool"
	"github.com/m-lab/rdmtp/transport"
)

// udpTransport is a demo-only stand-in for the real RDMA-capable
// fabric spec.md §1/§6 places out of scope: it satisfies
// transport.LowerTransport over a plain net.UDPConn so cmd/epdemo has
// something concrete to drive the endpoint/progress loop against.
// Unlike a real fabric it has no completion for sends (UDP writes are
// synchronous from the caller's point of view) and no memory
// registration (MRReg/MRClose are no-ops).
type udpTransport struct {
	conn *net.UDPConn
	av   *addressVector

	mu      sync.Mutex
	pending []pendingRecv
	cq      []transport.CQEntry
}

type pendingRecv struct {
	buf       []byte
	opContext uint64
}

func newUDPTransport(conn *net.UDPConn, av *addressVector) *udpTransport {
	t := &udpTransport{conn: conn, av: av}
	go t.readLoop()
	return t
}

// readLoop blocks on ReadFromUDP and matches each arriving datagram
// against the oldest posted recv buffer, mirroring a real fabric's
// "post a receive, it completes whenever a datagram arrives" model.
func (t *udpTransport) readLoop() {
	scratch := make([]byte, 1<<20)
	for {
		n, addr, err := t.conn.ReadFromUDP(scratch)
		if err != nil {
			return
		}
		handle := t.av.handleForAddr(addr)

		t.mu.Lock()
		if len(t.pending) == 0 {
			// No posted buffer to receive into; a real fabric would
			// hold this datagram or drop it depending on RNR policy,
			// this demo simply drops it.
			t.mu.Unlock()
			continue
		}
		pb := t.pending[0]
		t.pending = t.pending[1:]
		copy(pb.buf, scratch[:n])
		t.cq = append(t.cq, transport.CQEntry{OpContext: pb.opContext, Len: n, Peer: handle})
		t.mu.Unlock()
	}
}

func (t *udpTransport) SendMsg(iov []transport.IOVec, peer bufpool.PeerHandle, opContext uint64, flags transport.SendFlags) (transport.Status, error) {
	addr, ok := t.av.udpAddrFor(peer)
	if !ok {
		return transport.StatusError, transport.ErrTerminal
	}
	if _, err := t.conn.WriteToUDP(iov[0].Base, addr); err != nil {
		return transport.StatusError, err
	}
	return transport.StatusOK, nil
}

func (t *udpTransport) RecvMsg(iov []transport.IOVec, opContext uint64, flags transport.RecvFlags) (transport.Status, error) {
	t.mu.Lock()
	t.pending = append(t.pending, pendingRecv{buf: iov[0].Base, opContext: opContext})
	t.mu.Unlock()
	return transport.StatusOK, nil
}

func (t *udpTransport) ReadCQ(maxEntries int) ([]transport.CQEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.cq) == 0 {
		return nil, nil
	}
	if maxEntries <= 0 || maxEntries > len(t.cq) {
		maxEntries = len(t.cq)
	}
	out := t.cq[:maxEntries]
	t.cq = t.cq[maxEntries:]
	return out, nil
}

func (t *udpTransport) MRReg(buf []byte) (bufpool.MRHandle, error) { return 0, nil }
func (t *udpTransport) MRClose(h bufpool.MRHandle) error           { return nil }

func (t *udpTransport) GetName() ([]byte, error) {
	return []byte(t.conn.LocalAddr().String()), nil
}

func (t *udpTransport) SetName(addr []byte) error { return nil }

// addressVector resolves the wire-level address bytes this demo uses
// (a UDP "host:port" string) to stable bufpool.PeerHandle values.
type addressVector struct {
	mu       sync.Mutex
	byHandle map[bufpool.PeerHandle]*net.UDPAddr
	byString map[string]bufpool.PeerHandle
	next     bufpool.PeerHandle
}

func newAddressVector() *addressVector {
	return &addressVector{
		byHandle: make(map[bufpool.PeerHandle]*net.UDPAddr),
		byString: make(map[string]bufpool.PeerHandle),
		next:     1,
	}
}

func (av *addressVector) Insert(addr []byte) (bufpool.PeerHandle, error) {
	resolved, err := net.ResolveUDPAddr("udp", string(addr))
	if err != nil {
		return 0, err
	}
	return av.handleForAddr(resolved), nil
}

func (av *addressVector) Lookup(handle bufpool.PeerHandle) ([]byte, bool) {
	av.mu.Lock()
	defer av.mu.Unlock()
	addr, ok := av.byHandle[handle]
	if !ok {
		return nil, false
	}
	return []byte(addr.String()), true
}

func (av *addressVector) Used() int {
	av.mu.Lock()
	defer av.mu.Unlock()
	return len(av.byHandle)
}

func (av *addressVector) handleForAddr(addr *net.UDPAddr) bufpool.PeerHandle {
	av.mu.Lock()
	defer av.mu.Unlock()
	key := addr.String()
	if h, ok := av.byString[key]; ok {
		return h
	}
	h := av.next
	av.next++
	av.byHandle[h] = addr
	av.byString[key] = h
	return h
}

func (av *addressVector) udpAddrFor(h bufpool.PeerHandle) (*net.UDPAddr, bool) {
	av.mu.Lock()
	defer av.mu.Unlock()
	addr, ok := av.byHandle[h]
	return addr, ok
}
