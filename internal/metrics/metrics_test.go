package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/event"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	walleterrors "github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
)

func TestSubscribe_CountsEvents(t *testing.T) {
	bus := event.NewBus()
	ids := Subscribe(bus)
	assert.Len(t, ids, len(event.Names))

	tx, err := model.NewTransaction(model.TransactionParams{
		Account: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Type:    model.TransactionTypeStake,
		Status:  model.TransactionStatusSuccess,
		Hash:    "0xabc",
	}, time.Now())
	require.NoError(t, err)

	submitted := testutil.ToFloat64(EventsEmittedTotal.WithLabelValues(string(event.SubmitTransaction)))
	final := testutil.ToFloat64(TransactionsFinalTotal.WithLabelValues("STAKE", "SUCCESS"))
	rejected := testutil.ToFloat64(ErrorsTotal.WithLabelValues("USER_REJECTED"))

	ctx := context.Background()
	bus.Emit(ctx, event.NewSubmitTransaction(model.TransactionTypeStake))
	terminal, ok := event.NewTerminal(tx)
	require.True(t, ok)
	bus.Emit(ctx, terminal)
	bus.Emit(ctx, event.NewError(walleterrors.ErrUserRejected))

	assert.Equal(t, submitted+1, testutil.ToFloat64(EventsEmittedTotal.WithLabelValues(string(event.SubmitTransaction))))
	assert.Equal(t, final+1, testutil.ToFloat64(TransactionsFinalTotal.WithLabelValues("STAKE", "SUCCESS")))
	assert.Equal(t, rejected+1, testutil.ToFloat64(ErrorsTotal.WithLabelValues("USER_REJECTED")))
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(ConfirmExhaustedTotal.WithLabelValues("operation"))
	RecordConfirmPhase("operation", false, 0)
	assert.Equal(t, before+1, testutil.ToFloat64(ConfirmExhaustedTotal.WithLabelValues("operation")))

	RecordSweep("ok", 4)
	assert.Equal(t, float64(4), testutil.ToFloat64(PendingTransactionsGauge))

	failed := testutil.ToFloat64(KafkaMessagesProduced.WithLabelValues("wallet-transactions", "failed"))
	RecordKafkaMessage("wallet-transactions", errors.New("broker down"))
	assert.Equal(t, failed+1, testutil.ToFloat64(KafkaMessagesProduced.WithLabelValues("wallet-transactions", "failed")))
}

func TestHandler(t *testing.T) {
	RecordSubmission("INJECTED", "submitted", 0.5)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "eidos_wallet_submissions_total")
}
