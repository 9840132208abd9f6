package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plugwise/stick-go/node"
	"github.com/plugwise/stick-go/wire"
)

type noopSubmitter struct{}

func (noopSubmitter) Submit(string, wire.Frame, int, func(wire.Frame, error)) {}

func TestAddConstructsNodeAndFiresCallback(t *testing.T) {
	r := New()
	var discovered node.Node
	r.OnNodeDiscovered(func(n node.Node) { discovered = n })

	n := r.Add("0123456789ABCDEF", wire.NodeTypeCircle, noopSubmitter{})
	require.NotNil(t, n)
	require.Same(t, discovered, n)
	require.True(t, r.Knows("0123456789ABCDEF"))
}

func TestAddIsIdempotent(t *testing.T) {
	r := New()
	n1 := r.Add("0123456789ABCDEF", wire.NodeTypeCircle, noopSubmitter{})
	n2 := r.Add("0123456789ABCDEF", wire.NodeTypeCircle, noopSubmitter{})
	require.Same(t, n1, n2)
}

func TestJoinedNodesCountsCirclePlusSeparatelyUntilDiscovered(t *testing.T) {
	r := New()
	require.Equal(t, 1, r.JoinedNodes(), "circle+ counted even before any node is registered")

	r.Add("AAAAAAAAAAAAAAAA", wire.NodeTypeCirclePlus, noopSubmitter{})
	require.Equal(t, 1, r.JoinedNodes())

	r.Add("BBBBBBBBBBBBBBBB", wire.NodeTypeCircle, noopSubmitter{})
	require.Equal(t, 2, r.JoinedNodes())
}

func TestJoinedNodesCountsMembershipTableRegardlessOfDiscoveryAnswer(t *testing.T) {
	r := New()
	r.Add("00AAAAAAAAAAAAAA", wire.NodeTypeCirclePlus, noopSubmitter{})
	r.Add("AAAAAAAAAAAAAAAA", wire.NodeTypeCircle, noopSubmitter{})

	// A scan reports two members (e.g. a sleepy node that never
	// answers NodeInfoRequest alongside the one already discovered);
	// joined_nodes must reflect the membership table, not how many of
	// its members have actually responded.
	r.SetMembershipTableSize(2)
	require.Equal(t, 3, r.JoinedNodes())
}

func TestRemoveFiresCallback(t *testing.T) {
	r := New()
	var removedMAC string
	r.OnNodeRemoved(func(mac string) { removedMAC = mac })

	r.Add("0123456789ABCDEF", wire.NodeTypeScan, noopSubmitter{})
	r.Remove("0123456789ABCDEF")

	require.Equal(t, "0123456789ABCDEF", removedMAC)
	require.False(t, r.Knows("0123456789ABCDEF"))
}

func TestMarkDiscoveryFailedCounts(t *testing.T) {
	r := New()
	require.Equal(t, 1, r.MarkDiscoveryFailed("mac"))
	require.Equal(t, 2, r.MarkDiscoveryFailed("mac"))
}
