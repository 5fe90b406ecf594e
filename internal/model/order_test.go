package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_Classes(t *testing.T) {
	tests := []struct {
		status      OrderStatus
		terminal    bool
		cancellable bool
	}{
		{StatusPlaced, false, true},
		{StatusConfirmed, false, true},
		{StatusPreparing, false, false},
		{StatusReady, false, false},
		{StatusAwaitingPickup, false, false},
		{StatusPickedUp, false, false},
		{StatusOnTheWay, false, false},
		{StatusNearby, false, false},
		{StatusDelivered, true, false},
		{StatusCancelled, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			parsed, err := ParseOrderStatus(string(tt.status))
			require.NoError(t, err)
			assert.Equal(t, tt.status, parsed)
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.cancellable, tt.status.IsCancellable())
		})
	}

	_, err := ParseOrderStatus("out_for_delivery")
	require.Error(t, err)
}

func TestOrderStatus_Before(t *testing.T) {
	assert.True(t, StatusPlaced.Before(StatusDelivered))
	assert.True(t, StatusPreparing.Before(StatusReady))
	assert.False(t, StatusReady.Before(StatusPreparing))
	assert.False(t, StatusPlaced.Before(StatusCancelled))
	assert.False(t, StatusCancelled.Before(StatusPlaced))
}

func TestOrderSnapshot_DisplayTimeline(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := OrderSnapshot{
		Timeline: []TimelineEvent{
			{Status: StatusConfirmed, Timestamp: base.Add(time.Minute)},
			{Status: StatusPlaced, Timestamp: base},
			{Status: StatusReady, Timestamp: base.Add(10 * time.Minute)},
			{Status: StatusPreparing, Timestamp: base.Add(5 * time.Minute)},
		},
	}

	got := s.DisplayTimeline()
	want := []OrderStatus{StatusReady, StatusPreparing, StatusConfirmed, StatusPlaced}
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i].Status)
	}

	assert.Equal(t, StatusConfirmed, s.Timeline[0].Status, "source timeline must not be reordered")
}

func TestOrderSnapshot_CloneIsIndependent(t *testing.T) {
	s := OrderSnapshot{
		Timeline: []TimelineEvent{{Status: StatusPlaced}},
		Agent:    &Agent{Name: "Ravi", Location: &GeoPoint{Lat: 1, Lng: 2}},
	}
	c := s.Clone()
	c.Timeline[0].Status = StatusCancelled
	c.Agent.Location.Lat = 9

	assert.Equal(t, StatusPlaced, s.Timeline[0].Status)
	assert.Equal(t, 1.0, s.Agent.Location.Lat)
}
