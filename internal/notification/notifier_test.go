package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/copydesk/internal/providers/email"
	userdomain "github.com/smallbiznis/copydesk/internal/user/domain"
	userrepository "github.com/smallbiznis/copydesk/internal/user/repository"
	"github.com/smallbiznis/copydesk/pkg/db/dbtest"
	"github.com/smallbiznis/copydesk/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockEmail struct {
	mock.Mock
}

func (m *mockEmail) Send(ctx context.Context, msg email.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockEmail) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	return m.Called(ctx, to, templateName, data).Error(0)
}

type mockSlack struct {
	mock.Mock
}

func (m *mockSlack) PostMessage(ctx context.Context, message string) error {
	return m.Called(ctx, message).Error(0)
}

func setup(t *testing.T) (*Service, *mockEmail, *mockSlack, *userdomain.User) {
	t.Helper()
	db := dbtest.Open(t, &userdomain.User{})
	user := &userdomain.User{
		ID:        snowflake.ID(100),
		Email:     "ola@example.com",
		Name:      "Ola",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, userrepository.Provide().Insert(context.Background(), db, user))

	mailer := &mockEmail{}
	poster := &mockSlack{}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		UserRepo: userrepository.Provide(),
		Email:    mailer,
		Slack:    poster,
	}).(*Service)
	return svc, mailer, poster, user
}

func TestOrderPaidSendsEmailAndSignal(t *testing.T) {
	svc, mailer, poster, user := setup(t)

	mailer.On("SendTemplate", mock.Anything, []string{user.Email}, templateOrderPaid,
		mock.MatchedBy(func(data map[string]any) bool {
			return data["name"] == "Ola" && data["amount"] == "75.00 USD" && data["invoice_number"] == "FV/2026/000003"
		}),
	).Return(nil).Once()
	poster.On("PostMessage", mock.Anything, mock.AnythingOfType("string")).Return(nil).Once()

	svc.OrderPaid(context.Background(), OrderPaid{
		UserID:        user.ID,
		OrderID:       snowflake.ID(5),
		OrderNumber:   12,
		Amount:        money.New(7500, money.USD),
		InvoiceNumber: "FV/2026/000003",
	})

	mailer.AssertExpectations(t)
	poster.AssertExpectations(t)
}

func TestOrderCancelledUsesItsOwnTemplate(t *testing.T) {
	svc, mailer, poster, user := setup(t)

	mailer.On("SendTemplate", mock.Anything, []string{user.Email}, templateOrderCancelled,
		mock.MatchedBy(func(data map[string]any) bool { return data["order_number"] == int64(9) }),
	).Return(nil).Once()
	poster.On("PostMessage", mock.Anything, "order #9 cancelled").Return(nil).Once()

	svc.OrderCancelled(context.Background(), OrderCancelled{UserID: user.ID, OrderID: 4, OrderNumber: 9})

	mailer.AssertExpectations(t)
	poster.AssertExpectations(t)
}

func TestFailuresAreSwallowed(t *testing.T) {
	svc, mailer, poster, user := setup(t)

	mailer.On("SendTemplate", mock.Anything, mock.Anything, templateTopUpReceived, mock.Anything).
		Return(errors.New("smtp down")).Once()
	poster.On("PostMessage", mock.Anything, mock.Anything).Return(errors.New("slack down")).Once()

	assert.NotPanics(t, func() {
		svc.TopUpReceived(context.Background(), TopUpReceived{
			UserID:  user.ID,
			Amount:  money.New(5000, money.PLN),
			Balance: money.New(15000, money.PLN),
		})
	})
	mailer.AssertExpectations(t)
	poster.AssertExpectations(t)
}

func TestUnknownRecipientSkipsEmail(t *testing.T) {
	svc, mailer, poster, _ := setup(t)

	svc.CheckoutExpired(context.Background(), CheckoutExpired{UserID: snowflake.ID(999), OrderID: 1, OrderNumber: 3})

	mailer.AssertNotCalled(t, "SendTemplate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	poster.AssertNotCalled(t, "PostMessage", mock.Anything, mock.Anything)
}

func TestNotificationsSurviveCancelledCaller(t *testing.T) {
	svc, mailer, poster, user := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mailer.On("SendTemplate", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }),
		mock.Anything, templateCheckoutExpired, mock.Anything).Return(nil).Once()

	svc.CheckoutExpired(ctx, CheckoutExpired{UserID: user.ID, OrderID: 1, OrderNumber: 3})
	mailer.AssertExpectations(t)
	poster.AssertExpectations(t)
}
