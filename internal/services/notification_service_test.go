package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/tradesafi/backend/internal/models"
)

type senderStub struct {
	to   []string
	text []string
	err  error
}

func (s *senderStub) Send(ctx context.Context, platformUserID, text string) error {
	if s.err != nil {
		return s.err
	}
	s.to = append(s.to, platformUserID)
	s.text = append(s.text, text)
	return nil
}

func TestNotificationService_NotifyUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("routes to the user's platform", func(t *testing.T) {
		telegram := &senderStub{}
		whatsapp := &senderStub{}
		service := NewNotificationService(db, map[models.Platform]MessageSender{
			models.PlatformTelegram: telegram,
			models.PlatformWhatsApp: whatsapp,
		})

		mock.ExpectQuery("SELECT platform, platform_user_id FROM users WHERE id = \\$1").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"platform", "platform_user_id"}).
				AddRow("telegram", "12345"))

		err := service.NotifyUser(context.Background(), "user1", "Escrow funded", "The buyer has funded the escrow.")
		assert.NoError(t, err)
		assert.Equal(t, []string{"12345"}, telegram.to)
		assert.Contains(t, telegram.text[0], "Escrow funded")
		assert.Empty(t, whatsapp.to)
	})

	t.Run("unknown user", func(t *testing.T) {
		service := NewNotificationService(db, map[models.Platform]MessageSender{
			models.PlatformTelegram: &senderStub{},
		})

		mock.ExpectQuery("SELECT platform, platform_user_id FROM users WHERE id = \\$1").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"platform", "platform_user_id"}))

		err := service.NotifyUser(context.Background(), "ghost", "t", "m")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("no sender for platform", func(t *testing.T) {
		service := NewNotificationService(db, nil)

		mock.ExpectQuery("SELECT platform, platform_user_id FROM users WHERE id = \\$1").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"platform", "platform_user_id"}).
				AddRow("whatsapp", "+254712345678"))

		err := service.NotifyUser(context.Background(), "user1", "t", "m")
		assert.Error(t, err)
	})

	t.Run("sender failure propagates", func(t *testing.T) {
		service := NewNotificationService(db, map[models.Platform]MessageSender{
			models.PlatformTelegram: &senderStub{err: errors.New("api down")},
		})

		mock.ExpectQuery("SELECT platform, platform_user_id FROM users WHERE id = \\$1").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"platform", "platform_user_id"}).
				AddRow("telegram", "12345"))

		err := service.NotifyUser(context.Background(), "user1", "t", "m")
		assert.Error(t, err)
	})
}
