// Package idgen generates human-facing document numbers for orders and
// transfer batches.
package idgen

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init sets the snowflake node number. Instances sharing a database must use
// distinct nodes.
func Init(n int64) error {
	nd, err := snowflake.NewNode(n)
	if err != nil {
		return fmt.Errorf("initializing snowflake node %d: %w", n, err)
	}
	mu.Lock()
	node = nd
	mu.Unlock()
	return nil
}

func current() *snowflake.Node {
	mu.Lock()
	defer mu.Unlock()
	if node == nil {
		// Node 0 is always valid.
		node, _ = snowflake.NewNode(0)
	}
	return node
}

// Next returns a fresh id.
func Next() int64 {
	return current().Generate().Int64()
}

// Number returns a fresh document number such as "ORD-1A2B3C4D5E".
func Number(prefix string) string {
	return prefix + "-" + strings.ToUpper(current().Generate().Base36())
}
