package tree

import (
	"context"
	"fmt"
	"strings"

	"github.com/wkalt/spatialcache/nodestore"
)

// Statistics describes the shape of a tree.
type Statistics struct {
	Nodes      int `json:"nodes"`
	InnerNodes int `json:"innerNodes"`
	LeafNodes  int `json:"leafNodes"`
	Data       int `json:"data"`
	Height     int `json:"height"`
}

func (s Statistics) String() string {
	return fmt.Sprintf(
		"nodes: %d (%d inner, %d leaf), data: %d, height: %d",
		s.Nodes, s.InnerNodes, s.LeafNodes, s.Data, s.Height,
	)
}

// Statistics walks the tree and counts its nodes and entries. The height is
// the number of levels; an empty tree reports zeros throughout.
func (t *Tree) Statistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{}
	if t.closed.Load() {
		return stats, ErrTreeClosed
	}
	err := t.Walk(ctx, func(_ int, _ nodestore.NodeID, node nodestore.Node) {
		switch node := node.(type) {
		case *nodestore.InnerNode:
			stats.InnerNodes++
			stats.Height = max(stats.Height, int(node.Height)+1)
		case *nodestore.LeafNode:
			if len(node.Entries) == 0 {
				return
			}
			stats.LeafNodes++
			stats.Data += len(node.Entries)
			stats.Height = max(stats.Height, 1)
		}
	})
	if err != nil {
		return Statistics{}, err
	}
	stats.Nodes = stats.InnerNodes + stats.LeafNodes
	return stats, nil
}

// Print returns a textual representation of the tree. Inner nodes print as
// "[inner h=<height> <bounds> <children>...]" and leaves as
// "[leaf <bounds> <entries>]".
func (t *Tree) Print(ctx context.Context) (string, error) {
	if t.closed.Load() {
		return "", ErrTreeClosed
	}
	sb := &strings.Builder{}
	if err := t.printNode(ctx, sb, t.root.Load().ID()); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *Tree) printNode(ctx context.Context, sb *strings.Builder, id nodestore.NodeID) error {
	node, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get node %s: %w", id, err)
	}
	if !ok {
		fmt.Fprintf(sb, "[missing %s]", id)
		return nil
	}
	switch node := node.(type) {
	case *nodestore.InnerNode:
		fmt.Fprintf(sb, "[inner h=%d %s", node.Height, node.Bounds)
		for _, child := range node.Children {
			sb.WriteString(" ")
			if err := t.printNode(ctx, sb, child.ID); err != nil {
				return err
			}
		}
		sb.WriteString("]")
	case *nodestore.LeafNode:
		fmt.Fprintf(sb, "[leaf %s %d]", node.Bounds, len(node.Entries))
	}
	return nil
}

// Walk calls f on every node reachable from the root in depth-first order,
// parents before children. The root has depth zero. Missing nodes are
// skipped.
func (t *Tree) Walk(
	ctx context.Context,
	f func(depth int, id nodestore.NodeID, node nodestore.Node),
) error {
	if t.closed.Load() {
		return ErrTreeClosed
	}
	type frame struct {
		id    nodestore.NodeID
		depth int
	}
	stack := []frame{{id: t.root.Load().ID()}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, ok, err := t.store.Get(ctx, top.id)
		if err != nil {
			return fmt.Errorf("failed to get node %s: %w", top.id, err)
		}
		if !ok {
			continue
		}
		f(top.depth, top.id, node)
		if inner, ok := node.(*nodestore.InnerNode); ok {
			for i := len(inner.Children) - 1; i >= 0; i-- {
				stack = append(stack, frame{id: inner.Children[i].ID, depth: top.depth + 1})
			}
		}
	}
	return nil
}
