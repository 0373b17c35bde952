package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
)

// Action tells a query how to proceed after visiting a node.
type Action int

const (
	// Continue descends into the node.
	Continue Action = iota
	// Prune skips the node's subtree.
	Prune
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Prune:
		return "prune"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Visitor receives the nodes and entries matched by a query. Either method
// may return ErrStop to end the query early.
type Visitor interface {
	VisitNode(id nodestore.NodeID, node nodestore.Node) (Action, error)
	VisitData(data nodestore.Data) error
}

// VisitorFuncs adapts a pair of functions to the Visitor interface. A nil
// Node function continues into every node and a nil Data function ignores
// entries.
type VisitorFuncs struct {
	Node func(id nodestore.NodeID, node nodestore.Node) (Action, error)
	Data func(data nodestore.Data) error
}

// VisitNode calls f.Node.
func (f VisitorFuncs) VisitNode(id nodestore.NodeID, node nodestore.Node) (Action, error) {
	if f.Node == nil {
		return Continue, nil
	}
	return f.Node(id, node)
}

// VisitData calls f.Data.
func (f VisitorFuncs) VisitData(data nodestore.Data) error {
	if f.Data == nil {
		return nil
	}
	return f.Data(data)
}

type queryConfig struct {
	noAccess bool
}

// QueryOption is an option for a query.
type QueryOption func(*queryConfig)

// NoAccess prevents the query from recording leaf accesses with the tree's
// observer.
func NoAccess() QueryOption {
	return func(c *queryConfig) {
		c.noAccess = true
	}
}

// IntersectionQuery visits every node and entry that intersects q.
func (t *Tree) IntersectionQuery(ctx context.Context, q region.Region, v Visitor, opts ...QueryOption) error {
	return t.query(ctx, q, false, v, opts)
}

// ContainmentQuery visits every node that intersects q and every entry
// contained by q.
func (t *Tree) ContainmentQuery(ctx context.Context, q region.Region, v Visitor, opts ...QueryOption) error {
	return t.query(ctx, q, true, v, opts)
}

func (t *Tree) query(
	ctx context.Context,
	q region.Region,
	contained bool,
	v Visitor,
	opts []QueryOption,
) error {
	if t.closed.Load() {
		return ErrTreeClosed
	}
	if err := t.checkDims(q); err != nil {
		return err
	}
	cfg := queryConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	stack := []nodestore.NodeID{t.root.Load().ID()}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, ok, err := t.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get node %s: %w", id, err)
		}
		if !ok || !node.Region().Intersects(q) {
			continue
		}
		action, err := v.VisitNode(id, node)
		if err != nil {
			return stopped(err)
		}
		if action == Prune {
			continue
		}
		switch node := node.(type) {
		case *nodestore.InnerNode:
			for i := len(node.Children) - 1; i >= 0; i-- {
				if node.Children[i].Bounds.Intersects(q) {
					stack = append(stack, node.Children[i].ID)
				}
			}
		case *nodestore.LeafNode:
			if !cfg.noAccess {
				t.touch(id)
			}
			for _, entry := range node.Entries {
				if !matches(entry.Bounds, q, contained) {
					continue
				}
				if err := v.VisitData(entry); err != nil {
					return stopped(err)
				}
			}
		}
	}
	return nil
}

func matches(bounds, q region.Region, contained bool) bool {
	if contained {
		return q.Contains(bounds)
	}
	return q.Intersects(bounds)
}

func stopped(err error) error {
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}
