package services

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestShareLinkService_JoinLink(t *testing.T) {
	service := NewShareLinkService(nil, nil, "TradeSafiBot")
	assert.Equal(t, "https://t.me/TradeSafiBot?start="+testTxID, service.JoinLink(testTxID))
}

func TestShareLinkService_GenerateJoinQR(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("renders qr for open listing", func(t *testing.T) {
		service := NewShareLinkService(db, nil, "TradeSafiBot")

		mock.ExpectQuery("SELECT status FROM transactions WHERE id = \\$1").
			WithArgs(testTxID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("created"))

		link, qrImage, err := service.GenerateJoinQR(context.Background(), testTxID)
		assert.NoError(t, err)
		assert.Equal(t, service.JoinLink(testTxID), link)

		decoded, err := base64.StdEncoding.DecodeString(qrImage)
		assert.NoError(t, err)
		assert.Greater(t, len(decoded), 8)
		// PNG magic bytes.
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, decoded[:4])
	})

	t.Run("serves cached image", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewShareLinkService(db, redisClient, "TradeSafiBot")

		mock.ExpectQuery("SELECT status FROM transactions WHERE id = \\$1").
			WithArgs(testTxID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("created"))
		redisMock.ExpectGet("joinqr:" + testTxID).SetVal("cached-image")

		_, qrImage, err := service.GenerateJoinQR(context.Background(), testTxID)
		assert.NoError(t, err)
		assert.Equal(t, "cached-image", qrImage)
	})

	t.Run("rejected once a buyer joined", func(t *testing.T) {
		service := NewShareLinkService(db, nil, "TradeSafiBot")

		mock.ExpectQuery("SELECT status FROM transactions WHERE id = \\$1").
			WithArgs(testTxID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("buyer_joined"))

		_, _, err := service.GenerateJoinQR(context.Background(), testTxID)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("unknown transaction", func(t *testing.T) {
		service := NewShareLinkService(db, nil, "TradeSafiBot")

		mock.ExpectQuery("SELECT status FROM transactions WHERE id = \\$1").
			WithArgs(testTxID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		_, _, err := service.GenerateJoinQR(context.Background(), testTxID)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}
