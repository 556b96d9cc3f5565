// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackshrub/FaithFlow-Enterprise-Grade-Church-Management-System-sub013/topics"
)

func TestBuildKnownTopics(t *testing.T) {
	tests := []struct {
		name  string
		route topics.Route
		want  string
	}{
		{
			name:  "community general",
			route: topics.Route{Tenant: "stmarks", Kind: topics.KindCommunity, Resource: "youth", Channel: topics.ChannelGeneral},
			want:  "stmarks/community/youth/general",
		},
		{
			name:  "community announcement",
			route: topics.Route{Tenant: "stmarks", Kind: topics.KindCommunity, Resource: "youth", Channel: topics.ChannelAnnouncement},
			want:  "stmarks/community/youth/announcement",
		},
		{
			name:  "subgroup",
			route: topics.Route{Tenant: "stmarks", Kind: topics.KindCommunity, Resource: "youth", Channel: topics.ChannelSubgroup, Subgroup: "worship-team"},
			want:  "stmarks/community/youth/subgroup/worship-team",
		},
		{
			name:  "member inbox",
			route: topics.Route{Tenant: "stmarks", Kind: topics.KindMember, Resource: "m-42", Channel: topics.ChannelIncomingCall},
			want:  "stmarks/member/m-42/incoming_call",
		},
		{
			name:  "member call status",
			route: topics.Route{Tenant: "stmarks", Kind: topics.KindMember, Resource: "m-42", Channel: topics.ChannelCallStatus},
			want:  "stmarks/member/m-42/call_status",
		},
		{
			name:  "call signal",
			route: topics.Route{Tenant: "stmarks", Kind: topics.KindCall, Resource: "c-7", Channel: topics.ChannelSignal},
			want:  "stmarks/call/c-7/signal",
		},
		{
			name:  "call participants",
			route: topics.Route{Tenant: "stmarks", Kind: topics.KindCall, Resource: "c-7", Channel: topics.ChannelParticipants},
			want:  "stmarks/call/c-7/participants",
		},
		{
			name:  "presence",
			route: topics.Route{Tenant: "stmarks", Kind: topics.KindPresence},
			want:  "stmarks/presence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := topics.Build(tt.route)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyRoundTrip(t *testing.T) {
	routes := []topics.Route{
		{Tenant: "t", Kind: topics.KindCommunity, Resource: "c1", Channel: topics.ChannelGeneral},
		{Tenant: "t", Kind: topics.KindCommunity, Resource: "c1", Channel: topics.ChannelAnnouncement},
		{Tenant: "t", Kind: topics.KindCommunity, Resource: "c1", Channel: topics.ChannelSubgroup, Subgroup: "sg9"},
		{Tenant: "t", Kind: topics.KindMember, Resource: "m1", Channel: topics.ChannelIncomingCall},
		{Tenant: "t", Kind: topics.KindMember, Resource: "m1", Channel: topics.ChannelCallStatus},
		{Tenant: "t", Kind: topics.KindCall, Resource: "call-abc", Channel: topics.ChannelSignal},
		{Tenant: "t", Kind: topics.KindCall, Resource: "call-abc", Channel: topics.ChannelParticipants},
		{Tenant: "t", Kind: topics.KindPresence},
	}

	for _, r := range routes {
		built, err := topics.Build(r)
		require.NoError(t, err)

		back, err := topics.Classify(built)
		require.NoError(t, err, "classify %q", built)
		assert.Equal(t, r, back, "round trip of %q", built)
	}
}

func TestClassifyRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"tenant",
		"tenant/presence/extra",
		"tenant/community/youth",                        // missing channel
		"tenant/community/youth/signal",                 // channel from wrong kind
		"tenant/community/youth/subgroup",               // subgroup without id
		"tenant/community/youth/general/extra",          // trailing segment
		"tenant/chapel/youth/general",                   // unknown kind
		"tenant/member/m1/general",                      // channel from wrong kind
		"tenant/call/c1/incoming_call",                  // channel from wrong kind
		"tenant/community//general",                     // empty segment
		"tenant/community/you+th/general",               // wildcard in id
		"tenant/community/youth/#",                      // wildcard channel
		"tenant/community/youth/subgroup/a/b",           // too deep
		"tenant/community/youth/general\x00",            // NUL byte
	}

	for _, topic := range bad {
		_, err := topics.Classify(topic)
		assert.Error(t, err, "expected rejection of %q", topic)
	}
}

func TestBuildRejectsInvalidInput(t *testing.T) {
	_, err := topics.Build(topics.Route{Tenant: "", Kind: topics.KindPresence})
	assert.ErrorIs(t, err, topics.ErrInvalidSegment)

	_, err = topics.Build(topics.Route{Tenant: "t", Kind: topics.KindMember, Resource: "m/1", Channel: topics.ChannelIncomingCall})
	assert.ErrorIs(t, err, topics.ErrInvalidSegment)

	_, err = topics.Build(topics.Route{Tenant: "t", Kind: "chapel", Resource: "x", Channel: topics.ChannelGeneral})
	assert.ErrorIs(t, err, topics.ErrUnknownKind)

	_, err = topics.Build(topics.Route{Tenant: "t", Kind: topics.KindCall, Resource: "c", Channel: topics.ChannelGeneral})
	assert.ErrorIs(t, err, topics.ErrUnknownChannel)

	_, err = topics.Build(topics.Route{Tenant: "t", Kind: topics.KindPresence, Resource: "x"})
	assert.ErrorIs(t, err, topics.ErrMalformedTopic)

	_, err = topics.Build(topics.Route{Tenant: "t", Kind: topics.KindMember, Resource: "m", Channel: topics.ChannelIncomingCall, Subgroup: "sg"})
	assert.ErrorIs(t, err, topics.ErrMalformedTopic)
}

func TestDistinctChannelsDistinctTopics(t *testing.T) {
	seen := make(map[string]topics.Route)
	for _, r := range []topics.Route{
		{Tenant: "t", Kind: topics.KindCommunity, Resource: "a", Channel: topics.ChannelGeneral},
		{Tenant: "t", Kind: topics.KindCommunity, Resource: "a", Channel: topics.ChannelAnnouncement},
		{Tenant: "t", Kind: topics.KindCommunity, Resource: "b", Channel: topics.ChannelGeneral},
		{Tenant: "t", Kind: topics.KindMember, Resource: "a", Channel: topics.ChannelIncomingCall},
		{Tenant: "t", Kind: topics.KindCall, Resource: "a", Channel: topics.ChannelSignal},
		{Tenant: "u", Kind: topics.KindCommunity, Resource: "a", Channel: topics.ChannelGeneral},
	} {
		built, err := topics.Build(r)
		require.NoError(t, err)
		if prev, dup := seen[built]; dup {
			t.Fatalf("routes %+v and %+v map to same topic %q", prev, r, built)
		}
		seen[built] = r
	}
}
