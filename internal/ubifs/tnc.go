package ubifs

import (
	"fmt"

	"github.com/go-ubift/ubift/internal/types"
	"github.com/go-ubift/ubift/internal/ubi"
)

// TNC is the Tree Node Cache: a read-only view over the on-flash UBIFS
// B+-tree, rooted at the index node the master node points to. Despite the
// name, this implementation never caches — every lookup re-reads the LEBs
// it needs, which is acceptable for a forensic, single-pass tool and
// mirrors the reference implementation's _find/_find_range/_traverse,
// which are likewise pure functions over the on-flash tree.
type TNC struct {
	volume   *ubi.Volume
	rootLNum uint32
	rootOffs uint32
}

func newTNC(volume *ubi.Volume, rootLNum, rootOffs uint32) *TNC {
	return &TNC{volume: volume, rootLNum: rootLNum, rootOffs: rootOffs}
}

// nodeAt parses the node living at (lnum, offs) within the TNC's volume.
func (t *TNC) nodeAt(lnum, offs uint32) (*Node, error) {
	leb, err := t.volume.ReadLEB(int(lnum))
	if err != nil {
		return nil, err
	}
	if int(offs) >= len(leb) {
		return nil, fmt.Errorf("ubifs: tnc: offset %d outside leb %d", offs, lnum)
	}
	return ParseNode(leb[offs:])
}

// idxNodeAt parses the node at (lnum, offs), returning it only if it is an
// index node (a non-leaf) whose CRC validates — per spec.md §3's "a node
// failing CRC is reported but not trusted for live views", a corrupt index
// node cannot be descended into at all, since its branches themselves
// cannot be trusted.
func (t *TNC) idxNodeAt(lnum, offs uint32) (*types.IndexNode, error) {
	n, err := t.nodeAt(lnum, offs)
	if err != nil {
		return nil, err
	}
	if n.Idx == nil {
		return nil, nil
	}
	if !n.CRCOK {
		return nil, fmt.Errorf("ubifs: tnc: index node at leb %d offs %d failed crc validation", lnum, offs)
	}
	return n.Idx, nil
}

func (t *TNC) root() (*types.IndexNode, error) {
	idx, err := t.idxNodeAt(t.rootLNum, t.rootOffs)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, fmt.Errorf("ubifs: tnc: root at leb %d offs %d is not an index node", t.rootLNum, t.rootOffs)
	}
	return idx, nil
}

// Find searches the B+-tree for the leaf node whose key equals key exactly,
// mirroring the reference implementation's _find. Returns nil, nil if no
// such key exists.
func (t *TNC) Find(key types.Key) (*Node, error) {
	root, err := t.root()
	if err != nil {
		return nil, err
	}
	return t.find(root, key)
}

func (t *TNC) find(node *types.IndexNode, key types.Key) (*Node, error) {
	branches := node.Branches
	if len(branches) == 0 {
		return nil, nil
	}

	var selected *types.Branch
	for i := range branches {
		b := &branches[i]
		if key.Less(b.Key) {
			if i == 0 {
				selected = b
			} else {
				selected = &branches[i-1]
			}
			break
		}
		if key.Equal(b.Key) {
			if node.Level == 0 {
				leaf, err := t.nodeAt(b.LNum, b.Offs)
				if err != nil {
					return nil, err
				}
				if !leaf.CRCOK {
					return nil, nil
				}
				return leaf, nil
			}
			selected = b
		}
	}
	if selected == nil {
		selected = &branches[len(branches)-1]
	}

	target, err := t.nodeAt(selected.LNum, selected.Offs)
	if err != nil {
		return nil, err
	}
	// A node failing CRC is excluded from live views per spec.md §3 —
	// whether it is the leaf itself or an index node whose subtree can no
	// longer be trusted, treat the key as not found rather than returning
	// unvalidated data.
	if !target.CRCOK {
		return nil, nil
	}
	if target.Idx != nil {
		return t.find(target.Idx, key)
	}
	if node.Level == 0 {
		return target, nil
	}
	return nil, nil
}

// Range returns every leaf node whose key k satisfies min <= k < max,
// mirroring the reference implementation's _find_range.
func (t *TNC) Range(min, max types.Key) ([]*Node, error) {
	root, err := t.root()
	if err != nil {
		return nil, err
	}
	return t.findRange(root, min, max)
}

func (t *TNC) findRange(node *types.IndexNode, min, max types.Key) ([]*Node, error) {
	var result []*Node
	branches := node.Branches
	if len(branches) == 0 {
		return result, nil
	}

	if node.Level == 0 {
		for i := range branches {
			b := &branches[i]
			if min.LessOrEqual(b.Key) && b.Key.Less(max) {
				leaf, err := t.nodeAt(b.LNum, b.Offs)
				if err != nil {
					return nil, err
				}
				if !leaf.CRCOK {
					continue
				}
				result = append(result, leaf)
			}
		}
		return result, nil
	}

	startIdx, endIdx := -1, -1
	for i := range branches {
		bk := branches[i].Key
		if startIdx == -1 && min.Less(bk) {
			if i == 0 {
				startIdx = 0
			} else {
				startIdx = i - 1
			}
		}
		if endIdx == -1 && max.Less(bk) {
			if i == len(branches)-1 {
				endIdx = len(branches) - 1
				if startIdx == -1 {
					startIdx = endIdx
				}
				break
			}
			endIdx = i - 1
			if startIdx == -1 {
				startIdx = endIdx
			}
			break
		}
		if endIdx == -1 && i == len(branches)-1 {
			endIdx = len(branches) - 1
			if startIdx == -1 {
				startIdx = endIdx
			}
		}
	}
	if startIdx == -1 {
		startIdx = 0
	}
	if endIdx == -1 {
		endIdx = len(branches) - 1
	}

	for i := startIdx; i <= endIdx; i++ {
		b := &branches[i]
		child, err := t.nodeAt(b.LNum, b.Offs)
		if err != nil {
			return nil, err
		}
		if !child.CRCOK || child.Idx == nil {
			continue
		}
		sub, err := t.findRange(child.Idx, min, max)
		if err != nil {
			return nil, err
		}
		result = append(result, sub...)
	}
	return result, nil
}

// Visitor is called once per node encountered by Traverse.
type Visitor func(ch types.CH, lnum, offs uint32)

// Traverse performs an inorder walk of the whole B+-tree rooted at the TNC,
// invoking visit for every node (index or leaf) it passes through,
// mirroring the reference implementation's _traverse.
func (t *TNC) Traverse(visit Visitor) error {
	root, err := t.root()
	if err != nil {
		return err
	}
	return t.traverse(root, visit)
}

// Leaves returns every leaf node (data, dentry, or inode) in the whole
// tree, in the same inorder sequence Traverse walks it. Used by queries
// that need a full scan — list_inodes and find_dentries_for in spec.md
// §4.3's "Public queries" — rather than a single key or range lookup.
func (t *TNC) Leaves() ([]*Node, error) {
	root, err := t.root()
	if err != nil {
		return nil, err
	}
	var out []*Node
	err = t.traverse(root, func(ch types.CH, lnum, offs uint32) {
		n, err := t.nodeAt(lnum, offs)
		if err != nil || n.Idx != nil || !n.CRCOK {
			return
		}
		out = append(out, n)
	})
	return out, err
}

func (t *TNC) traverse(node *types.IndexNode, visit Visitor) error {
	branches := node.Branches
	for i := range branches {
		b := &branches[i]
		child, err := t.nodeAt(b.LNum, b.Offs)
		if err != nil {
			return err
		}
		// A corrupt child, leaf or index, is excluded from the walk
		// entirely per spec.md §3 — its subtree cannot be trusted either.
		if !child.CRCOK {
			continue
		}
		if child.Idx != nil {
			if err := t.traverse(child.Idx, visit); err != nil {
				return err
			}
		}
		visit(child.CH, b.LNum, b.Offs)
	}
	return nil
}
