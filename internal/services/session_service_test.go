package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/tradesafi/backend/internal/models"
)

func TestSessionService_PutGetClear(t *testing.T) {
	client, mock := redismock.NewClientMock()
	service := NewSessionService(client, 15*time.Minute)
	ctx := context.Background()

	t.Run("put stores with ttl", func(t *testing.T) {
		mock.Regexp().ExpectSet("session:telegram:12345", `.*"step":"awaiting_price".*`, 15*time.Minute).
			SetVal("OK")

		err := service.Put(ctx, models.PlatformTelegram, "12345", Session{Step: StepAwaitingPrice})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get returns stored session", func(t *testing.T) {
		stored, _ := json.Marshal(Session{
			Step:      StepAwaitingDescription,
			Price:     2500,
			UpdatedAt: time.Now(),
		})
		mock.ExpectGet("session:telegram:12345").SetVal(string(stored))

		session, err := service.Get(ctx, models.PlatformTelegram, "12345")
		assert.NoError(t, err)
		if !assert.NotNil(t, session) {
			return
		}
		assert.Equal(t, StepAwaitingDescription, session.Step)
		assert.Equal(t, int64(2500), session.Price)
	})

	t.Run("get on missing session returns nil", func(t *testing.T) {
		mock.ExpectGet("session:telegram:99999").RedisNil()

		session, err := service.Get(ctx, models.PlatformTelegram, "99999")
		assert.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("clear deletes the key", func(t *testing.T) {
		mock.ExpectDel("session:telegram:12345").SetVal(1)

		err := service.Clear(ctx, models.PlatformTelegram, "12345")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keys are scoped per platform", func(t *testing.T) {
		mock.ExpectGet("session:whatsapp:12345").RedisNil()

		session, err := service.Get(ctx, models.PlatformWhatsApp, "12345")
		assert.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestSessionService_DisputeDialog(t *testing.T) {
	client, mock := redismock.NewClientMock()
	service := NewSessionService(client, 15*time.Minute)
	ctx := context.Background()

	mock.Regexp().ExpectSet("session:telegram:555", `.*"awaiting_dispute_reason".*`, 15*time.Minute).
		SetVal("OK")

	err := service.Put(ctx, models.PlatformTelegram, "555", Session{
		Step:          StepAwaitingDisputeReason,
		TransactionID: testTxID,
	})
	assert.NoError(t, err)

	stored, _ := json.Marshal(Session{
		Step:          StepAwaitingDisputeReason,
		TransactionID: testTxID,
		UpdatedAt:     time.Now(),
	})
	mock.ExpectGet("session:telegram:555").SetVal(string(stored))

	session, err := service.Get(ctx, models.PlatformTelegram, "555")
	assert.NoError(t, err)
	if !assert.NotNil(t, session) {
		return
	}
	assert.Equal(t, testTxID, session.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
