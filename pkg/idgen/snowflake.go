package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 64 位：1 位符号 | 41 位毫秒时间戳 | 10 位节点 | 12 位序列号
//
// 订单号、流水号、模拟网关交易号都由它生成，多实例部署时每个实例
// 必须配置不同的 node_id。
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	nodeBits       = 10
	sequenceBits   = 12
	maxNodeID      = -1 ^ (-1 << nodeBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

var ErrInvalidNodeID = errors.New("node_id 超出范围")

// Node 单个节点的生成器
type Node struct {
	mu        sync.Mutex
	timestamp int64
	nodeID    int64
	sequence  int64
}

func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("%w: %d, 允许 0-%d", ErrInvalidNodeID, nodeID, maxNodeID)
	}
	return &Node{nodeID: nodeID}, nil
}

// Generate 同一毫秒内序列号用完时自旋到下一毫秒
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < n.timestamp {
		// 时钟回拨时沿用上一次的时间戳，保证单调
		now = n.timestamp
	}

	if now == n.timestamp {
		n.sequence = (n.sequence + 1) & maxSequence
		if n.sequence == 0 {
			for now <= n.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.sequence = 0
	}

	n.timestamp = now

	return ((now - epoch) << timestampShift) |
		(n.nodeID << nodeShift) |
		n.sequence
}

var (
	defaultNode *Node
	mu          sync.RWMutex
)

// Init 设置默认节点，进程启动时调用一次
func Init(nodeID int64) error {
	node, err := NewNode(nodeID)
	if err != nil {
		return err
	}
	mu.Lock()
	defaultNode = node
	mu.Unlock()
	return nil
}

func NextID() int64 {
	mu.RLock()
	node := defaultNode
	mu.RUnlock()

	if node == nil {
		mu.Lock()
		if defaultNode == nil {
			defaultNode, _ = NewNode(1)
		}
		node = defaultNode
		mu.Unlock()
	}
	return node.Generate()
}

// 格式：前缀 + 年月日时分秒 + 完整雪花 ID，例如 PP20240115143052_4593020340912640001
func generate(prefix string) string {
	return fmt.Sprintf("%s%s_%d", prefix, time.Now().Format("20060102150405"), NextID())
}

func GenerateOrderNo() string {
	return generate("PP")
}

func GenerateTransactionNo() string {
	return generate("TXN")
}

func GenerateGatewayTxID() string {
	return generate("GW")
}
