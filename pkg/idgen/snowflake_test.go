package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode_RejectsOutOfRange(t *testing.T) {
	_, err := NewNode(-1)
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	_, err = NewNode(maxNodeID + 1)
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	node, err := NewNode(maxNodeID)
	require.NoError(t, err)
	assert.NotNil(t, node)
}

func TestNode_GenerateIsUniqueAndIncreasing(t *testing.T) {
	node, err := NewNode(7)
	require.NoError(t, err)

	prev := int64(0)
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNode_GenerateConcurrent(t *testing.T) {
	node, err := NewNode(3)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := node.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 4000)
}

func TestGenerateNumbers_Prefixes(t *testing.T) {
	require.NoError(t, Init(2))

	assert.True(t, strings.HasPrefix(GenerateOrderNo(), "PP"))
	assert.True(t, strings.HasPrefix(GenerateTransactionNo(), "TXN"))
	assert.True(t, strings.HasPrefix(GenerateGatewayTxID(), "GW"))
	assert.NotEqual(t, GenerateOrderNo(), GenerateOrderNo())
}
