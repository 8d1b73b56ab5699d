//go:build linux

package firewall

import (
	"context"
	"fmt"
	"net"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

// TableName is the nftables table that holds every rule this process
// installs. Flush deletes the whole table.
const TableName = "transproxy"

// NFTables programs the kernel over netlink, without an external binary.
type NFTables struct {
	conn  *nftables.Conn
	cfg   Config
	plan  Plan
	table *nftables.Table
	chain *nftables.Chain
}

func NewNFTables(cfg Config) (Firewall, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("nftables: %w", err)
	}
	return &NFTables{conn: conn, cfg: cfg}, nil
}

func (n *NFTables) setup() {
	table := &nftables.Table{Name: TableName, Family: nftables.TableFamilyIPv4}

	// Adding and deleting first clears a table left by an unclean exit.
	n.conn.AddTable(table)
	n.conn.DelTable(table)
	n.table = n.conn.AddTable(table)
	n.chain = n.conn.AddChain(&nftables.Chain{
		Name:     "output",
		Table:    n.table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityNATDest,
	})

	n.plan = NewPlan(n.cfg)
	for _, r := range n.plan.Rules {
		n.addRule(r)
	}
}

func (n *NFTables) addRule(r Rule) {
	n.conn.AddRule(&nftables.Rule{
		Table: n.table,
		Chain: n.chain,
		Exprs: ruleExprs(r),
	})
}

func (n *NFTables) Install(_ context.Context, port, toPort uint16) error {
	if n.table == nil {
		n.setup()
	}
	n.addRule(n.plan.AddRedirect(port, toPort))

	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("nftables: %w", err)
	}
	return nil
}

func (n *NFTables) Flush(context.Context) error {
	if n.table == nil {
		return nil
	}
	n.conn.DelTable(n.table)
	n.table, n.chain, n.plan = nil, nil, Plan{}

	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("nftables flush: %w", err)
	}
	return nil
}

func ruleExprs(r Rule) []expr.Any {
	switch {
	case r.HasUID:
		return []expr.Any{
			&expr.Meta{Key: expr.MetaKeySKUID, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.NativeEndian.PutUint32(r.UID)},
			&expr.Verdict{Kind: expr.VerdictAccept},
		}
	case r.Dst.IsValid():
		addr := r.Dst.Addr().As4()
		mask := net.CIDRMask(r.Dst.Bits(), 32)
		return []expr.Any{
			// IPv4 destination address.
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 16, Len: 4},
			&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4, Mask: mask, Xor: make([]byte, 4)},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: addr[:]},
			&expr.Verdict{Kind: expr.VerdictAccept},
		}
	default:
		return []expr.Any{
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.IPPROTO_TCP}},
			// TCP destination port.
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(r.Port)},
			&expr.Immediate{Register: 1, Data: binaryutil.BigEndian.PutUint16(r.ToPort)},
			&expr.Redir{RegisterProtoMin: 1},
		}
	}
}
