package gtfsrt_test

import (
	"fmt"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/transitlab/dispatchsim/gtfsrt"
	"github.com/transitlab/dispatchsim/sim"
)

func feedConfig() *sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Seed = 42
	cfg.Buses = 2
	cfg.Capacity = 8
	cfg.EpisodeSeconds = 120
	cfg.TickSeconds = 1
	cfg.StartHour = 10
	cfg.BaseRate = 0.2
	cfg.Stops = []sim.StopSpec{
		{ID: 0, X: 0, Y: 0, Class: sim.CLASS_HUB},
		{ID: 1, X: 1, Y: 0, Class: sim.CLASS_LOCAL},
		{ID: 2, X: 1, Y: 1, Class: sim.CLASS_ARTERIAL},
		{ID: 3, X: 0, Y: 1, Class: sim.CLASS_LOCAL},
	}
	ring := []int{0, 1, 2, 3}
	cfg.Edges = nil
	for i := range ring {
		u, v := ring[i], ring[(i+1)%len(ring)]
		cfg.Edges = append(cfg.Edges,
			sim.EdgeSpec{From: u, To: v, BaseTime: 5},
			sim.EdgeSpec{From: v, To: u, BaseTime: 5},
		)
	}
	cfg.Lines = []sim.LineSpec{
		{ID: 0, Stops: []int{0, 1, 2, 3}},
		{ID: 1, Stops: []int{0, 3, 2, 1}},
	}
	return &cfg
}

func TestBuildFeedFromSnapshot(t *testing.T) {
	e, err := sim.NewEngine(feedConfig())
	require.NoError(t, err)
	_, err = e.Run(15)
	require.NoError(t, err)
	snap := e.Export()

	b := gtfsrt.NewBuilder()
	b.Epoch = time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)
	feed := b.BuildFeed(snap)

	require.NotNil(t, feed.Header)
	assert.Equal(t, gtfsrt.FEED_VERSION, feed.Header.GetGtfsRealtimeVersion())
	assert.Equal(t, gtfs.FeedHeader_FULL_DATASET, feed.Header.GetIncrementality())
	wantTS := uint64(b.Epoch.Add(time.Duration(snap.SimTime * float64(time.Second))).Unix())
	assert.Equal(t, wantTS, feed.Header.GetTimestamp())

	require.Len(t, feed.Entity, len(snap.Active.Buses))
	for i, bus := range snap.Active.Buses {
		ent := feed.Entity[i]
		assert.Equal(t, fmt.Sprintf("bus-%d", bus.ID), ent.GetId())
		vp := ent.GetVehicle()
		require.NotNil(t, vp)
		assert.Equal(t, fmt.Sprintf("seed%d-bus%d", snap.Seed, bus.ID),
			vp.GetTrip().GetTripId())
		assert.Equal(t, wantTS, vp.GetTimestamp())
		if bus.AtStop >= 0 {
			assert.Equal(t, gtfs.VehiclePosition_STOPPED_AT, vp.GetCurrentStatus())
			assert.Equal(t, fmt.Sprintf("stop-%d", bus.AtStop), vp.GetStopId())
		} else {
			assert.Equal(t, gtfs.VehiclePosition_IN_TRANSIT_TO, vp.GetCurrentStatus())
			assert.Equal(t, fmt.Sprintf("stop-%d", bus.EdgeTo), vp.GetStopId())
		}
	}
}

func TestPositionProjection(t *testing.T) {
	b := gtfsrt.NewBuilder()
	b.Epoch = time.Unix(0, 0).UTC()
	snap := &sim.Snapshot{
		Active: sim.WorldState{Buses: []sim.BusObs{
			{ID: 0, AtStop: 0, X: 0, Y: 0},
			{ID: 1, AtStop: 1, X: 3, Y: 4},
		}},
	}
	feed := b.BuildFeed(snap)
	require.Len(t, feed.Entity, 2)

	p0 := feed.Entity[0].GetVehicle().GetPosition()
	assert.InDelta(t, b.OriginLat, float64(p0.GetLatitude()), 1e-6)
	assert.InDelta(t, b.OriginLon, float64(p0.GetLongitude()), 1e-6)

	// 东北向偏移：纬度、经度都应增大
	p1 := feed.Entity[1].GetVehicle().GetPosition()
	assert.Greater(t, p1.GetLatitude(), p0.GetLatitude())
	assert.Greater(t, p1.GetLongitude(), p0.GetLongitude())
	assert.InDelta(t, b.OriginLat+4*b.MetersPerUnit/gtfsrt.METERS_PER_DEGREE,
		float64(p1.GetLatitude()), 1e-6)
}

func TestOccupancyLadder(t *testing.T) {
	cases := []struct {
		load, capacity int
		want           gtfs.VehiclePosition_OccupancyStatus
	}{
		{0, 50, gtfs.VehiclePosition_EMPTY},
		{0, 0, gtfs.VehiclePosition_EMPTY},
		{3, 0, gtfs.VehiclePosition_EMPTY},
		{20, 50, gtfs.VehiclePosition_MANY_SEATS_AVAILABLE},
		{25, 50, gtfs.VehiclePosition_FEW_SEATS_AVAILABLE},
		{39, 50, gtfs.VehiclePosition_FEW_SEATS_AVAILABLE},
		{45, 50, gtfs.VehiclePosition_STANDING_ROOM_ONLY},
		{50, 50, gtfs.VehiclePosition_FULL},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, gtfsrt.OccupancyFor(c.load, c.capacity),
			"load=%d capacity=%d", c.load, c.capacity)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	e, err := sim.NewEngine(feedConfig())
	require.NoError(t, err)
	_, err = e.Run(10)
	require.NoError(t, err)

	b := gtfsrt.NewBuilder()
	b.Epoch = time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)
	data, err := b.Marshal(e.Export())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var feed gtfs.FeedMessage
	require.NoError(t, proto.Unmarshal(data, &feed))
	require.Len(t, feed.Entity, 2)
	assert.Equal(t, "bus-0", feed.Entity[0].GetId())
	assert.Equal(t, "bus-1", feed.Entity[1].GetId())

	// 同快照同基准时间，两次导出逐字节一致
	again, err := b.Marshal(e.Export())
	require.NoError(t, err)
	assert.Equal(t, data, again)
}
