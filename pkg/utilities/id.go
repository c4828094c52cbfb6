package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeID returns a time-ordered id from the process-wide node.
// The node id comes from SNOWFLAKE_NODE (default 1). If the node cannot be
// initialized a KSUID string is returned instead.
func NewSnowflakeID() string {
	nodeOnce.Do(func() {
		nodeID, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64)
		if err != nil {
			nodeID = 1
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	if node == nil {
		return NewKSUID()
	}
	return node.Generate().String()
}
