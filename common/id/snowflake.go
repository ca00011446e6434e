package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Each process (server, worker) should use a distinct node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	if err != nil {
		return fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	return nil
}

// New generates a time-ordered int64 ID unique across process instances.
func New() int64 {
	return node.Generate().Int64()
}

// NewString generates a new ID in base58 string form, used where
// identifiers end up in file names or document keys.
func NewString() string {
	return node.Generate().Base58()
}
