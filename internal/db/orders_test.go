package db

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/Guizzs26/go-saga-outbox/internal/models"
	"github.com/Guizzs26/go-saga-outbox/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderRowColumns = []string{"id", "product_name", "quantity", "price", "status", "created_at", "updated_at"}

func TestOrderStore_TransitionWithFollowUp(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, product_name").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(orderRowColumns).AddRow(int64(5), "A", 1, int64(100), "PAYMENT_PENDING", now, now))
	mock.ExpectExec("UPDATE orders").
		WithArgs(int64(5), "INVENTORY_PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(sqlmock.AnyArg(), models.TopicInventoryRequest, "5", "INVENTORY_REQUEST", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewOrderStore(db)
	err := store.WithinTx(context.Background(), func(tx ports.OrderTx) error {
		order, err := tx.LockOrder(context.Background(), 5)
		if err != nil {
			return err
		}
		assert.Equal(t, models.StatusPaymentPending, order.Status)
		if err := tx.UpdateOrderStatus(context.Background(), order.ID, models.StatusInventoryPending); err != nil {
			return err
		}
		env := models.NewEnvelope(order, models.InventoryRequest)
		return tx.Enqueue(context.Background(), models.TopicInventoryRequest, env.Key(), env)
	})
	require.NoError(t, err)
}

func TestOrderStore_LockUnknownOrder(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, product_name").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(orderRowColumns))
	mock.ExpectRollback()

	store := NewOrderStore(db)
	err := store.WithinTx(context.Background(), func(tx ports.OrderTx) error {
		_, err := tx.LockOrder(context.Background(), 404)
		return err
	})
	require.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestOrderStore_UpdateMissingOrder(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewOrderStore(db)
	err := store.WithinTx(context.Background(), func(tx ports.OrderTx) error {
		return tx.UpdateOrderStatus(context.Background(), 9, models.StatusCompleted)
	})
	require.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestOrderStore_Queries(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	before := now.Add(-10 * time.Minute)

	mock.ExpectQuery("SELECT id, product_name").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(orderRowColumns).AddRow(int64(1), "A", 1, int64(10), "COMPLETED", now, now))
	mock.ExpectQuery("SELECT id, product_name").
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow(int64(1), "A", 1, int64(10), "COMPLETED", now, now).
			AddRow(int64(2), "B", 2, int64(20), "CANCELLED", now, now))
	mock.ExpectQuery("SELECT").
		WithArgs(before, 25).
		WillReturnRows(sqlmock.NewRows(orderRowColumns).AddRow(int64(3), "C", 1, int64(5), "INVENTORY_PENDING", now, before.Add(-time.Minute)))

	store := NewOrderStore(db)

	order, err := store.GetOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, order.Status)

	orders, err := store.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "B", orders[1].ProductName)

	stalled, err := store.ListStalled(context.Background(), before, 25)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, models.StatusInventoryPending, stalled[0].Status)
}
