// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

// Package topics maps domain concepts to canonical tenant-scoped topic
// strings and back. All functions are pure; the Build/Classify pair is a
// lossless round trip for every valid Route.
package topics

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the resource a topic routes to.
type Kind string

// Resource kinds.
const (
	KindCommunity Kind = "community"
	KindMember    Kind = "member"
	KindCall      Kind = "call"
	// KindPresence is the tenant-wide presence channel. It has no resource
	// id or channel suffix: the topic is exactly "{tenant}/presence".
	KindPresence Kind = "presence"
)

// Channel is the suffix selecting one logical stream within a resource.
type Channel string

// Channel suffixes per kind.
const (
	// community
	ChannelGeneral      Channel = "general"
	ChannelAnnouncement Channel = "announcement"
	ChannelSubgroup     Channel = "subgroup"
	// member
	ChannelIncomingCall Channel = "incoming_call"
	ChannelCallStatus   Channel = "call_status"
	// call
	ChannelSignal       Channel = "signal"
	ChannelParticipants Channel = "participants"
)

// Classification errors.
var (
	ErrInvalidSegment = errors.New("invalid topic segment")
	ErrUnknownKind    = errors.New("unknown resource kind")
	ErrUnknownChannel = errors.New("unknown channel for kind")
	ErrMalformedTopic = errors.New("malformed topic")
)

// Route is the decomposed form of a topic string.
type Route struct {
	Tenant   string
	Kind     Kind
	Resource string  // empty for KindPresence
	Channel  Channel // empty for KindPresence
	Subgroup string  // set only when Channel == ChannelSubgroup
}

// Build composes the canonical topic string for r.
func Build(r Route) (string, error) {
	if err := validateSegment(r.Tenant); err != nil {
		return "", fmt.Errorf("tenant: %w", err)
	}

	if r.Kind == KindPresence {
		if r.Resource != "" || r.Channel != "" || r.Subgroup != "" {
			return "", fmt.Errorf("%w: presence takes no resource or channel", ErrMalformedTopic)
		}
		return r.Tenant + "/presence", nil
	}

	if err := validateSegment(r.Resource); err != nil {
		return "", fmt.Errorf("resource: %w", err)
	}
	if !channelAllowed(r.Kind, r.Channel) {
		if _, ok := kindChannels[r.Kind]; !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
		}
		return "", fmt.Errorf("%w: %q on %q", ErrUnknownChannel, r.Channel, r.Kind)
	}

	if r.Channel == ChannelSubgroup {
		if err := validateSegment(r.Subgroup); err != nil {
			return "", fmt.Errorf("subgroup: %w", err)
		}
		return fmt.Sprintf("%s/%s/%s/%s/%s", r.Tenant, r.Kind, r.Resource, r.Channel, r.Subgroup), nil
	}
	if r.Subgroup != "" {
		return "", fmt.Errorf("%w: subgroup id outside subgroup channel", ErrMalformedTopic)
	}
	return fmt.Sprintf("%s/%s/%s/%s", r.Tenant, r.Kind, r.Resource, r.Channel), nil
}

// Classify decomposes a topic string produced by Build. Topics that do not
// match the scheme exactly are rejected rather than partially parsed.
func Classify(topic string) (Route, error) {
	parts := strings.Split(topic, "/")
	for _, p := range parts {
		if err := validateSegment(p); err != nil {
			return Route{}, err
		}
	}

	if len(parts) == 2 && parts[1] == "presence" {
		return Route{Tenant: parts[0], Kind: KindPresence}, nil
	}
	if len(parts) != 4 && len(parts) != 5 {
		return Route{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	r := Route{
		Tenant:   parts[0],
		Kind:     Kind(parts[1]),
		Resource: parts[2],
		Channel:  Channel(parts[3]),
	}
	if _, ok := kindChannels[r.Kind]; !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownKind, parts[1])
	}
	if !channelAllowed(r.Kind, r.Channel) {
		return Route{}, fmt.Errorf("%w: %q on %q", ErrUnknownChannel, r.Channel, r.Kind)
	}

	if len(parts) == 5 {
		if r.Channel != ChannelSubgroup {
			return Route{}, fmt.Errorf("%w: trailing segment on %q", ErrMalformedTopic, r.Channel)
		}
		r.Subgroup = parts[4]
		return r, nil
	}
	if r.Channel == ChannelSubgroup {
		return Route{}, fmt.Errorf("%w: subgroup channel without id", ErrMalformedTopic)
	}
	return r, nil
}

var kindChannels = map[Kind][]Channel{
	KindCommunity: {ChannelGeneral, ChannelAnnouncement, ChannelSubgroup},
	KindMember:    {ChannelIncomingCall, ChannelCallStatus},
	KindCall:      {ChannelSignal, ChannelParticipants},
}

func channelAllowed(k Kind, c Channel) bool {
	for _, ch := range kindChannels[k] {
		if ch == c {
			return true
		}
	}
	return false
}

// Convenience builders for the topics the SDK publishes and subscribes to.

// Community returns the topic for a community-level chat channel.
func Community(tenant, communityID string, ch Channel) (string, error) {
	return Build(Route{Tenant: tenant, Kind: KindCommunity, Resource: communityID, Channel: ch})
}

// Subgroup returns the topic for a subgroup chat channel.
func Subgroup(tenant, communityID, subgroupID string) (string, error) {
	return Build(Route{Tenant: tenant, Kind: KindCommunity, Resource: communityID, Channel: ChannelSubgroup, Subgroup: subgroupID})
}

// MemberInbox returns a member's incoming-call topic.
func MemberInbox(tenant, memberID string) (string, error) {
	return Build(Route{Tenant: tenant, Kind: KindMember, Resource: memberID, Channel: ChannelIncomingCall})
}

// MemberCallStatus returns a member's call-status topic.
func MemberCallStatus(tenant, memberID string) (string, error) {
	return Build(Route{Tenant: tenant, Kind: KindMember, Resource: memberID, Channel: ChannelCallStatus})
}

// CallSignal returns the signal topic for a call.
func CallSignal(tenant, callID string) (string, error) {
	return Build(Route{Tenant: tenant, Kind: KindCall, Resource: callID, Channel: ChannelSignal})
}

// CallParticipants returns the participants topic for a call.
func CallParticipants(tenant, callID string) (string, error) {
	return Build(Route{Tenant: tenant, Kind: KindCall, Resource: callID, Channel: ChannelParticipants})
}

// Presence returns the tenant-wide presence topic.
func Presence(tenant string) (string, error) {
	return Build(Route{Tenant: tenant, Kind: KindPresence})
}
