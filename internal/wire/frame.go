// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrProtocolViolation classifies malformed frames per the protocol's
// error taxonomy. Callers check with errors.Is; a violating frame is
// dropped silently by the dispatch layer, never propagated.
var ErrProtocolViolation = errors.New("protocol violation")

// Fixed field widths, in bytes, per the wire format.
const (
	ReqIDLen  = 10
	MACLen    = 17
	IPLen     = 15
	headerLen = 1 + ReqIDLen + 4 // state + req_id + attempt_no
)

// Frame is the single header layered above the link and network
// headers. Fields not conditioned on State are always present; the rest
// are present iff their predicate on State holds (see hasCosID,
// hasData, hasSrcAddr, hasHostAddr).
type Frame struct {
	State     State
	ReqID     string // exactly ReqIDLen bytes once padded
	AttemptNo uint32

	CosID uint32
	Data  []byte

	SrcMAC  string
	SrcIP   string
	HostMAC string
	HostIP  string
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// NormalizeReqID left-pads id with spaces to ReqIDLen, the frame
// format's fixed-width ASCII request identifier.
func NormalizeReqID(id string) string {
	if len(id) >= ReqIDLen {
		return id[:ReqIDLen]
	}
	return strings.Repeat(" ", ReqIDLen-len(id)) + id
}

// MarshalBinary encodes f with its conditional field layout. The Data
// field, when present, is prefixed with its own 4-byte big-endian
// length since it is the only variable-width field and never coexists
// on the wire with the address fields that follow it in the table.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if !f.State.Valid() {
		return nil, fmt.Errorf("wire: invalid state %d: %w", uint8(f.State), ErrProtocolViolation)
	}

	buf := make([]byte, 0, headerLen+64)
	buf = append(buf, byte(f.State))
	buf = append(buf, []byte(NormalizeReqID(f.ReqID))...)

	var attempt [4]byte
	binary.BigEndian.PutUint32(attempt[:], f.AttemptNo)
	buf = append(buf, attempt[:]...)

	if hasCosID(f.State) {
		var cos [4]byte
		binary.BigEndian.PutUint32(cos[:], f.CosID)
		buf = append(buf, cos[:]...)
	}

	if hasData(f.State) {
		var dlen [4]byte
		binary.BigEndian.PutUint32(dlen[:], uint32(len(f.Data)))
		buf = append(buf, dlen[:]...)
		buf = append(buf, f.Data...)
	}

	if hasSrcAddr(f.State) {
		buf = append(buf, []byte(padRight(f.SrcMAC, MACLen))...)
		buf = append(buf, []byte(padRight(f.SrcIP, IPLen))...)
	}

	if hasHostAddr(f.State) {
		buf = append(buf, []byte(padRight(f.HostMAC, MACLen))...)
		buf = append(buf, []byte(padRight(f.HostIP, IPLen))...)
	}

	return buf, nil
}

// UnmarshalBinary decodes a frame previously produced by MarshalBinary.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < headerLen {
		return fmt.Errorf("wire: short frame (%d bytes): %w", len(b), ErrProtocolViolation)
	}

	state := State(b[0])
	if !state.Valid() {
		return fmt.Errorf("wire: unknown state %d: %w", b[0], ErrProtocolViolation)
	}
	f.State = state
	f.ReqID = strings.TrimLeft(string(b[1:1+ReqIDLen]), " ")
	off := 1 + ReqIDLen
	f.AttemptNo = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	if hasCosID(state) {
		if len(b) < off+4 {
			return fmt.Errorf("wire: truncated cos_id: %w", ErrProtocolViolation)
		}
		f.CosID = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
	}

	if hasData(state) {
		if len(b) < off+4 {
			return fmt.Errorf("wire: truncated data length: %w", ErrProtocolViolation)
		}
		n := binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		if len(b) < off+int(n) {
			return fmt.Errorf("wire: truncated data payload: %w", ErrProtocolViolation)
		}
		f.Data = append([]byte(nil), b[off:off+int(n)]...)
		off += int(n)
	}

	if hasSrcAddr(state) {
		if len(b) < off+MACLen+IPLen {
			return fmt.Errorf("wire: truncated src address: %w", ErrProtocolViolation)
		}
		f.SrcMAC = strings.TrimRight(string(b[off:off+MACLen]), " ")
		off += MACLen
		f.SrcIP = strings.TrimRight(string(b[off:off+IPLen]), " ")
		off += IPLen
	}

	if hasHostAddr(state) {
		if len(b) < off+MACLen+IPLen {
			return fmt.Errorf("wire: truncated host address: %w", ErrProtocolViolation)
		}
		f.HostMAC = strings.TrimRight(string(b[off:off+MACLen]), " ")
		off += MACLen
		f.HostIP = strings.TrimRight(string(b[off:off+IPLen]), " ")
		off += IPLen
	}

	return nil
}

// Answers reports whether f is a valid reply to other: same request id
// and (other.State, f.State) is one of the recognized answer pairs.
func (f *Frame) Answers(other *Frame) bool {
	if other == nil {
		return false
	}
	if NormalizeReqID(f.ReqID) != NormalizeReqID(other.ReqID) {
		return false
	}
	return answerPairs[[2]State{other.State, f.State}]
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s req=%q attempt=%d", f.State, strings.TrimSpace(f.ReqID), f.AttemptNo)
}
