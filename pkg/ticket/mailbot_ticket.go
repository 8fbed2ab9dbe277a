// Package ticket issues support ticket ids quoted in auto-replies.
package ticket

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Issuer generates unique, roughly time-ordered ticket ids.
type Issuer struct {
	node *snowflake.Node
}

// NewIssuer creates an issuer for the given node id (0-1023).
func NewIssuer(nodeID int64) (*Issuer, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &Issuer{node: node}, nil
}

// NextTicketID returns a short base36 ticket id.
func (i *Issuer) NextTicketID() string {
	return i.node.Generate().Base36()
}
