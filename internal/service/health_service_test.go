package service

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"wabroadcast/internal/testutil"
)

func TestCheckHealth(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		dbErr  error
		queue  QueueProbe
		want   string
		queueS string
	}{
		{"all connected", nil, up, StatusHealthy, StatusConnected},
		{"queue down", nil, down, StatusDegraded, StatusDisconnected},
		{"no queue probe", nil, nil, StatusDegraded, StatusDisconnected},
		{"database down", errors.New("db gone"), up, StatusUnhealthy, StatusConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			testutil.AssertNoError(t, err)
			defer db.Close()
			mock.ExpectPing().WillReturnError(tt.dbErr)

			checker := NewHealthService(db, tt.queue, "meta", true, "1.0.0")
			status, err := checker.CheckHealth(context.Background())

			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, status.Status, tt.want)
			testutil.AssertEqual(t, status.Services["queue"], tt.queueS)
			testutil.AssertEqual(t, status.Provider, "meta")
			testutil.AssertEqual(t, status.DryRun, true)
		})
	}
}
