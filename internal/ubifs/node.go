package ubifs

import (
	"fmt"

	"github.com/go-ubift/ubift/internal/crc"
	"github.com/go-ubift/ubift/internal/types"
)

// Node is the parsed form of any UBIFS on-flash node, discriminated by
// Type. Exactly one of the typed fields below is populated.
type Node struct {
	CH      types.CH
	Type    types.NodeType
	Size    int // total on-disk size of this node, including any internal padding
	CRCOK   bool

	Ino  *types.InoNode
	Data *types.DataNode
	Dent *types.DentNode // also used for NodeXent; identical wire layout
	Trun *types.TrunNode
	Pad  *types.PadNode
	SB   *types.SuperblockNode
	Mst  *types.MasterNode
	Ref  *types.RefNode
	Idx  *types.IndexNode
	CS   *types.CSNode
	Orph *types.OrphNode
}

// ParseNode reads the common header at the start of buf and dispatches to
// the matching node parser, mirroring parse_arbitrary_node from the
// reference implementation.
func ParseNode(buf []byte) (*Node, error) {
	ch, err := types.ParseCH(buf)
	if err != nil {
		return nil, err
	}
	if !ch.ValidMagic() {
		return nil, fmt.Errorf("ubifs: node has invalid common-header magic")
	}
	n := &Node{CH: ch, Type: ch.NodeType, Size: int(ch.Len)}
	n.CRCOK = validNodeCRC(buf, ch)

	switch ch.NodeType {
	case types.NodeIno:
		v, err := types.ParseInoNode(buf)
		if err != nil {
			return nil, err
		}
		n.Ino = &v
	case types.NodeData:
		v, err := types.ParseDataNode(buf)
		if err != nil {
			return nil, err
		}
		n.Data = &v
	case types.NodeDent, types.NodeXent:
		v, err := types.ParseDentNode(buf)
		if err != nil {
			return nil, err
		}
		n.Dent = &v
	case types.NodeTrun:
		v, err := types.ParseTrunNode(buf)
		if err != nil {
			return nil, err
		}
		n.Trun = &v
	case types.NodePad:
		v, err := types.ParsePadNode(buf)
		if err != nil {
			return nil, err
		}
		n.Pad = &v
		n.Size = int(types.CHSize) + 4 + int(v.PadLen)
	case types.NodeSB:
		v, err := types.ParseSuperblockNode(buf)
		if err != nil {
			return nil, err
		}
		n.SB = &v
		n.Size = types.SuperblockSize
	case types.NodeMst:
		v, err := types.ParseMasterNode(buf)
		if err != nil {
			return nil, err
		}
		n.Mst = &v
		n.Size = types.MasterNodeSize
	case types.NodeRef:
		v, err := types.ParseRefNode(buf)
		if err != nil {
			return nil, err
		}
		n.Ref = &v
	case types.NodeIdx:
		v, err := types.ParseIndexNode(buf)
		if err != nil {
			return nil, err
		}
		n.Idx = &v
	case types.NodeCS:
		v, err := types.ParseCSNode(buf)
		if err != nil {
			return nil, err
		}
		n.CS = &v
	case types.NodeOrph:
		v, err := types.ParseOrphNode(buf)
		if err != nil {
			return nil, err
		}
		n.Orph = &v
	default:
		return nil, fmt.Errorf("ubifs: unsupported node type %d", ch.NodeType)
	}
	return n, nil
}

// validNodeCRC recomputes the CRC32 UBIFS stores over every byte of the
// node after the CRC field itself (i.e. sqnum through the end of Len bytes)
// and compares it against the value the common header carries.
func validNodeCRC(buf []byte, ch types.CH) bool {
	if int(ch.Len) < types.CHSize || len(buf) < int(ch.Len) {
		return false
	}
	got := crc.IEEE(buf[8:ch.Len])
	return got == ch.CRC
}

// Key returns the node's key, for the node types that carry one. Nodes
// without a key (sb, mst, ref, idx, cs, orph, pad) return the zero Key and
// false.
func (n *Node) Key() (types.Key, bool) {
	switch {
	case n.Ino != nil:
		return n.Ino.Key, true
	case n.Data != nil:
		return n.Data.Key, true
	case n.Dent != nil:
		return n.Dent.Key, true
	default:
		return types.Key{}, false
	}
}
