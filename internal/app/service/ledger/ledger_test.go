package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/store/memory"
	"github.com/fatflowers/billing/pkg/types"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return New(memory.New(), zap.NewNop().Sugar())
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(types.PaymentStatusPending, types.PaymentStatusApproved))
	require.True(t, CanTransition(types.PaymentStatusInProcess, types.PaymentStatusRejected))
	require.True(t, CanTransition(types.PaymentStatusRejected, types.PaymentStatusApproved))
	require.True(t, CanTransition(types.PaymentStatusApproved, types.PaymentStatusRefunded))
	require.False(t, CanTransition(types.PaymentStatusApproved, types.PaymentStatusPending))
	require.False(t, CanTransition(types.PaymentStatusApproved, types.PaymentStatusRejected))
	require.False(t, CanTransition(types.PaymentStatusRefunded, types.PaymentStatusApproved))
}

func TestAppend_Defaults(t *testing.T) {
	s := newService(t)
	p := &models.Payment{SubscriptionID: "s1", Amount: decimal.NewFromInt(90), Currency: "USD"}
	require.NoError(t, s.Append(context.Background(), p))
	require.NotEmpty(t, p.ID)
	require.Equal(t, types.PaymentStatusPending, p.Status)

	require.Error(t, s.Append(context.Background(), &models.Payment{}))
}

func TestTransition_ApproveOnce(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	p := &models.Payment{SubscriptionID: "s1", Amount: decimal.NewFromInt(90)}
	require.NoError(t, s.Append(ctx, p))

	got, changed, err := s.Transition(ctx, p.ID, Update{
		Status:            types.PaymentStatusApproved,
		ExternalPaymentID: "ext-1",
		ExternalStatus:    "approved",
		Raw:               []byte(`{"id":"ext-1"}`),
	})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "ext-1", *got.ExternalPaymentID)
	require.NotNil(t, got.PaymentDate)

	// re-confirmation is not a change
	_, changed, err = s.Transition(ctx, p.ID, Update{Status: types.PaymentStatusApproved})
	require.NoError(t, err)
	require.False(t, changed)

	// approved cannot be rejected later
	got, changed, err = s.Transition(ctx, p.ID, Update{Status: types.PaymentStatusRejected})
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, types.PaymentStatusApproved, got.Status)

	byExt, err := s.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	require.Equal(t, p.ID, byExt.ID)
}

func TestFindUnlinked(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	none, err := s.FindUnlinked(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, none)

	p := &models.Payment{SubscriptionID: "s1"}
	require.NoError(t, s.Append(ctx, p))
	got, err := s.FindUnlinked(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)

	_, _, err = s.Transition(ctx, p.ID, Update{Status: types.PaymentStatusInProcess, ExternalPaymentID: "ext-2"})
	require.NoError(t, err)
	got, err = s.FindUnlinked(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, got)
}
