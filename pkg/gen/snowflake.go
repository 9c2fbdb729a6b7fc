package gen

import (
	"gps-campaign-dashboard/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(ProvideSnowflakeNode))

// IDGenerator hands out unique, roughly time-ordered ids.
type IDGenerator interface {
	NewID() string
}

type SnowflakeNode struct {
	node *snowflake.Node
}

func NewSnowflakeNode(nodeID int64) (*SnowflakeNode, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &SnowflakeNode{node: node}, nil
}

func ProvideSnowflakeNode(cfg *config.Config) (IDGenerator, error) {
	return NewSnowflakeNode(cfg.Snowflake.Node)
}

func (s *SnowflakeNode) GenerateID() snowflake.ID {
	return s.node.Generate()
}

func (s *SnowflakeNode) NewID() string {
	return s.node.Generate().String()
}
