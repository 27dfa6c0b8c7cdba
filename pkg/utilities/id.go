package utilities

import (
	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// IDGenerator hands out snowflake ids for persisted records.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator builds a generator for the given snowflake node (0-1023).
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &IDGenerator{node: node}, nil
}

// Next returns the next snowflake id.
func (g *IDGenerator) Next() int64 {
	return g.node.Generate().Int64()
}
