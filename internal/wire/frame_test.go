// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "HREQ carries cos_id",
			frame: Frame{State: HREQ, ReqID: "0000000001", AttemptNo: 1, CosID: 3},
		},
		{
			name:  "RREQ carries cos_id",
			frame: Frame{State: RREQ, ReqID: "0000000001", AttemptNo: 2, CosID: 1},
		},
		{
			name:  "DREQ carries data",
			frame: Frame{State: DREQ, ReqID: "0000000001", AttemptNo: 1, Data: []byte("x")},
		},
		{
			name:  "DRES carries data",
			frame: Frame{State: DRES, ReqID: "0000000001", AttemptNo: 1, Data: []byte("r")},
		},
		{
			name: "RREQ carries src addr",
			frame: Frame{
				State: RREQ, ReqID: "0000000001", AttemptNo: 1,
				SrcMAC: "aa:bb:cc:dd:ee:ff", SrcIP: "10.0.0.5",
			},
		},
		{
			name: "DCAN carries both src and host addr",
			frame: Frame{
				State: DCAN, ReqID: "0000000001", AttemptNo: 1,
				SrcMAC: "aa:bb:cc:dd:ee:ff", SrcIP: "10.0.0.5",
				HostMAC: "11:22:33:44:55:66", HostIP: "10.0.0.9",
			},
		},
		{
			name: "HRES carries host addr only",
			frame: Frame{
				State: HRES, ReqID: "0000000001", AttemptNo: 1,
				HostMAC: "11:22:33:44:55:66", HostIP: "10.0.0.9",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.frame.MarshalBinary()
			require.NoError(t, err)

			var got Frame
			require.NoError(t, got.UnmarshalBinary(b))

			require.Equal(t, tc.frame.State, got.State)
			require.Equal(t, tc.frame.AttemptNo, got.AttemptNo)
			require.Equal(t, tc.frame.CosID, got.CosID)
			require.Equal(t, tc.frame.Data, got.Data)
			require.Equal(t, tc.frame.SrcMAC, got.SrcMAC)
			require.Equal(t, tc.frame.SrcIP, got.SrcIP)
			require.Equal(t, tc.frame.HostMAC, got.HostMAC)
			require.Equal(t, tc.frame.HostIP, got.HostIP)
		})
	}
}

func TestFrame_MarshalRejectsUnknownState(t *testing.T) {
	f := Frame{State: State(200), ReqID: "0000000001"}
	_, err := f.MarshalBinary()
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestFrame_UnmarshalRejectsShortFrame(t *testing.T) {
	var f Frame
	err := f.UnmarshalBinary([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestFrame_ShortReqIDRoundTrip(t *testing.T) {
	f := Frame{State: HREQ, ReqID: "abc", AttemptNo: 1, CosID: 2}
	b, err := f.MarshalBinary()
	require.NoError(t, err)

	var got Frame
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, "abc", got.ReqID)
	require.False(t, got.Answers(&Frame{State: HREQ, ReqID: "abc"}), "a request does not answer itself")
	require.True(t, (&Frame{State: HRES, ReqID: "abc"}).Answers(&got))
}

func TestFrame_Answers(t *testing.T) {
	tests := []struct {
		name   string
		req    Frame
		reply  Frame
		answer bool
	}{
		{"HREQ/HRES same id", Frame{State: HREQ, ReqID: "a"}, Frame{State: HRES, ReqID: "a"}, true},
		{"HREQ/HRES different id", Frame{State: HREQ, ReqID: "a"}, Frame{State: HRES, ReqID: "b"}, false},
		{"RREQ/RRES", Frame{State: RREQ, ReqID: "a"}, Frame{State: RRES, ReqID: "a"}, true},
		{"RREQ/RCAN", Frame{State: RREQ, ReqID: "a"}, Frame{State: RCAN, ReqID: "a"}, true},
		{"RRES/RACK", Frame{State: RRES, ReqID: "a"}, Frame{State: RACK, ReqID: "a"}, true},
		{"RRES/RCAN", Frame{State: RRES, ReqID: "a"}, Frame{State: RCAN, ReqID: "a"}, true},
		{"DREQ/DRES", Frame{State: DREQ, ReqID: "a"}, Frame{State: DRES, ReqID: "a"}, true},
		{"DREQ/DWAIT", Frame{State: DREQ, ReqID: "a"}, Frame{State: DWAIT, ReqID: "a"}, true},
		{"DREQ/DCAN", Frame{State: DREQ, ReqID: "a"}, Frame{State: DCAN, ReqID: "a"}, true},
		{"DRES/DACK", Frame{State: DRES, ReqID: "a"}, Frame{State: DACK, ReqID: "a"}, true},
		{"DRES/DCAN", Frame{State: DRES, ReqID: "a"}, Frame{State: DCAN, ReqID: "a"}, true},
		{"not a pair", Frame{State: HREQ, ReqID: "a"}, Frame{State: DACK, ReqID: "a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.answer, tt.reply.Answers(&tt.req))
		})
	}
}

func TestNormalizeReqID(t *testing.T) {
	require.Equal(t, "   1234567", NormalizeReqID("1234567"))
	require.Equal(t, "0123456789", NormalizeReqID("0123456789"))
	require.Equal(t, "0123456789", NormalizeReqID("01234567890"))
}
