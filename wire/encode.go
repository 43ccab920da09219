package wire

// EagerCapacity reports how many payload bytes fit inline in an RTS
// given the header overhead the caller has already decided on (whether
// the source address and/or completion-data word are piggybacked).
// This is the left-hand side of the eager/rendezvous decision in
// spec.md §4.3: a message fits eagerly iff its DataLen <=
// EagerCapacity(mtu, ...).
func EagerCapacity(mtu int, hasAddr bool, addrLen int, hasCQData bool) int {
	n := mtu - RTSHeaderLen(hasAddr, addrLen, hasCQData)
	if n < 0 {
		return 0
	}
	return n
}

// IsEager reports whether a transfer of totalLen bytes can be sent
// entirely within the RTS payload region, given the optional header
// extensions the sender intends to piggyback.
func IsEager(totalLen uint64, mtu int, hasAddr bool, addrLen int, hasCQData bool) bool {
	return totalLen <= uint64(EagerCapacity(mtu, hasAddr, addrLen, hasCQData))
}

// ShmIov is one entry of the header the shm fast path prepends to an RTS
// payload when the message is too large to inline but both peers are
// co-located: an iov count followed by the sender's local iov array,
// letting the receiver perform a cross-process copy directly out of
// the sender's address space. See spec.md §4.3 "Shared-memory fast
// path".
type ShmIov struct {
	Base uintptr
	Len  uint64
}

// EncodeShmIovs appends iovCount followed by the iov array to buf,
// returning the extended slice. Used only on the shm side, where a local
// virtual address is meaningful to the peer.
func EncodeShmIovs(buf []byte, iovs []ShmIov) []byte {
	var countBuf [4]byte
	putUint32(countBuf[:], uint32(len(iovs)))
	buf = append(buf, countBuf[:]...)
	for _, iov := range iovs {
		var b [16]byte
		putUint64(b[:8], uint64(iov.Base))
		putUint64(b[8:], iov.Len)
		buf = append(buf, b[:]...)
	}
	return buf
}

// DecodeShmIovs parses the iov array EncodeShmIovs wrote.
func DecodeShmIovs(p []byte) (iovs []ShmIov, rest []byte, err error) {
	if len(p) < 4 {
		return nil, nil, ErrShortPacket
	}
	count := getUint32(p[:4])
	p = p[4:]
	iovs = make([]ShmIov, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(p) < 16 {
			return nil, nil, ErrShortPacket
		}
		iovs = append(iovs, ShmIov{
			Base: uintptr(getUint64(p[:8])),
			Len:  getUint64(p[8:16]),
		})
		p = p[16:]
	}
	return iovs, p, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
