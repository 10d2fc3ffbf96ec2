package bom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// 1 = kit of (2, 3); 2 = kit of (4); 5 = kit of (4)
func sampleGraph() *Graph {
	return NewGraph([]Edge{
		{KitID: 1, ComponentID: 2, Quantity: 1},
		{KitID: 1, ComponentID: 3, Quantity: 2},
		{KitID: 2, ComponentID: 4, Quantity: 3},
		{KitID: 5, ComponentID: 4, Quantity: 1},
	})
}

func TestGraphAncestorsAndDescendants(t *testing.T) {
	g := sampleGraph()
	require.Equal(t, []int64{1, 2, 5}, g.Ancestors(4))
	require.Equal(t, []int64{1}, g.Ancestors(3))
	require.Empty(t, g.Ancestors(1))
	require.Equal(t, []int64{2, 3, 4}, g.Descendants(1))
	require.Equal(t, []int64{1, 2, 5}, g.Kits())
}

func TestGraphFindCycle(t *testing.T) {
	g := sampleGraph()
	require.Nil(t, g.FindCycle(1))

	g.Replace(4, []Edge{{ComponentID: 1, Quantity: 1}})
	path := g.FindCycle(4)
	require.Equal(t, []int64{4, 1, 2, 4}, path)
}

func TestGraphReplaceDropsOldParents(t *testing.T) {
	g := sampleGraph()
	g.Replace(1, []Edge{{ComponentID: 3, Quantity: 1}})
	require.Equal(t, []int64{1}, g.Ancestors(3))
	require.Equal(t, []int64{2, 5}, g.Ancestors(4))
	require.Empty(t, g.Ancestors(2))
}

func TestGraphTopoOrderComponentsFirst(t *testing.T) {
	g := sampleGraph()
	order, err := g.TopoOrder([]int64{1, 2, 5})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1, 5}, order)

	g.Replace(4, []Edge{{ComponentID: 1, Quantity: 1}})
	_, err = g.TopoOrder([]int64{1})
	require.ErrorIs(t, err, ErrGraphCycle)
}
