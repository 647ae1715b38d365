package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_SendMessage(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "PP-1" || msg.Topic != "orders" {
			return errors.New("unexpected message")
		}
		return nil
	})
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerFrom(mock)
	require.NoError(t, p.SendMessage("orders", "PP-1", `{"order_no":"PP-1"}`))
	assert.ErrorIs(t, p.SendMessage("orders", "PP-2", "{}"), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
