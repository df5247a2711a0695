package dashboard_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherdash/weatherdash/internal/airquality"
	"github.com/weatherdash/weatherdash/internal/dashboard"
	"github.com/weatherdash/weatherdash/internal/geocode"
	"github.com/weatherdash/weatherdash/internal/location"
	"github.com/weatherdash/weatherdash/internal/weather"
)

var amsterdam = location.Coordinates{Lat: 52.37, Lon: 4.89}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestService(cfg dashboard.ServiceConfig, clock *fakeClock) *dashboard.Service {
	if cfg.Locator == nil {
		coords := amsterdam
		cfg.Locator = location.NewStaticLocator(&coords)
	}
	if cfg.Forecast == nil {
		cfg.Forecast = &mockForecast{}
	}
	cfg.Logger = zerolog.Nop()
	cfg.Now = clock.Now
	return dashboard.NewService(cfg)
}

func TestService_InitialState(t *testing.T) {
	clock := &fakeClock{now: day0}
	svc := newTestService(dashboard.ServiceConfig{}, clock)

	assert.Nil(t, svc.Snapshot())

	st := svc.Status()
	assert.True(t, st.Loading)
	assert.False(t, st.HasSnapshot)
	assert.False(t, st.Stale)
	assert.Nil(t, st.LastError)
}

func TestService_RefreshEndToEnd(t *testing.T) {
	clock := &fakeClock{now: day0.Add(5*time.Hour + 30*time.Minute)}

	// Forecast and air quality must be in flight at the same time.
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()
	rendezvous := func() error {
		arrived.Done()
		select {
		case <-both:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("fetches did not overlap")
		}
	}

	forecast := &mockForecast{fn: func(_ context.Context, _, _ float64) (*weather.Forecast, error) {
		if err := rendezvous(); err != nil {
			return nil, err
		}
		return newForecast(0), nil
	}}
	aq := &mockAirQuality{
		series: newSeries(10, 20, 30, 40, 50, 60),
		before: func() { _ = rendezvous() },
	}
	geo := &mockGeocoder{addr: &geocode.Address{City: "Amsterdam", State: "North Holland", CountryCode: "nl"}}
	repo := dashboard.NewInMemoryRepository()
	recorder := &loadingRecorder{}

	svc := newTestService(dashboard.ServiceConfig{
		Forecast:        forecast,
		AirQuality:      aq,
		Geocoder:        geo,
		Repository:      repo,
		OnLoadingChange: recorder.record,
	}, clock)

	snap, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, []bool{false}, recorder.snapshot(), "loading goes from true to false exactly once")
	assert.Same(t, snap, svc.Snapshot())

	assert.Equal(t, 5, snap.HourlyIndex)
	assert.Equal(t, weather.Round(snap.Hourly[snap.HourlyIndex].Temperature), snap.Current.Temperature)
	require.NotNil(t, snap.Current.AQI)
	assert.Equal(t, 60, *snap.Current.AQI)
	assert.Equal(t, "Amsterdam, North Holland, NL", snap.Address.Label())
	assert.Equal(t, amsterdam, snap.Coords)
	assert.Empty(t, snap.Warnings)

	st := svc.Status()
	assert.False(t, st.Loading)
	assert.True(t, st.HasSnapshot)
	assert.False(t, st.Stale)
	assert.Equal(t, snap.Seq, st.Seq)
	require.NotNil(t, st.LastSuccessAt)

	stored, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, stored)

	view := dashboard.BuildView(snap, st, dashboard.ViewOptions{})
	assert.True(t, view.Ready)
	assert.Equal(t, snap.Current.Temperature, view.Sidebar.Temperature)
}

func TestService_SupersededRefreshIsDropped(t *testing.T) {
	clock := &fakeClock{now: day0.Add(5*time.Hour + 30*time.Minute)}

	var calls atomic.Int32
	gate := make(chan struct{})
	forecast := &mockForecast{fn: func(_ context.Context, _, _ float64) (*weather.Forecast, error) {
		if calls.Add(1) == 1 {
			<-gate
			return newForecast(100), nil
		}
		return newForecast(0), nil
	}}
	recorder := &loadingRecorder{}

	svc := newTestService(dashboard.ServiceConfig{
		Forecast:        forecast,
		OnLoadingChange: recorder.record,
	}, clock)

	slow := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(context.Background())
		slow <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	fast, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16, fast.Current.Temperature)

	// The slow refresh is still running.
	assert.True(t, svc.Status().Loading)
	assert.Empty(t, recorder.snapshot())

	close(gate)
	select {
	case err := <-slow:
		assert.ErrorIs(t, err, dashboard.ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("slow refresh did not return")
	}

	assert.Same(t, fast, svc.Snapshot(), "the older response must not replace the newer one")
	assert.Equal(t, 16, svc.Snapshot().Current.Temperature)
	assert.Equal(t, []bool{false}, recorder.snapshot())
	assert.False(t, svc.Status().Loading)
}

func TestService_LocationFailureKeepsSnapshot(t *testing.T) {
	clock := &fakeClock{now: day0.Add(2 * time.Hour)}
	locator := &switchLocator{coords: amsterdam}

	svc := newTestService(dashboard.ServiceConfig{Locator: locator}, clock)

	first, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	locator.set(location.Coordinates{}, location.ErrDenied)
	_, err = svc.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, location.ErrDenied)
	assert.Equal(t, dashboard.KindLocationUnavailable, dashboard.Classify(err))

	assert.Same(t, first, svc.Snapshot())
	st := svc.Status()
	assert.True(t, st.Stale)
	assert.False(t, st.Loading)
	require.NotNil(t, st.LastError)
	assert.Equal(t, dashboard.KindLocationUnavailable, st.LastError.Kind)
	assert.Equal(t, "locate", st.LastError.Stage)

	locator.set(amsterdam, nil)
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)

	st = svc.Status()
	assert.False(t, st.Stale)
	assert.Nil(t, st.LastError)
}

func TestService_ForecastFailure(t *testing.T) {
	clock := &fakeClock{now: day0}
	recorder := &loadingRecorder{}
	forecast := &mockForecast{fn: func(_ context.Context, _, _ float64) (*weather.Forecast, error) {
		return nil, fmt.Errorf("%w: status 503", weather.ErrProviderUnavailable)
	}}

	svc := newTestService(dashboard.ServiceConfig{
		Forecast:        forecast,
		AirQuality:      &mockAirQuality{series: newSeries(1)},
		OnLoadingChange: recorder.record,
	}, clock)

	_, err := svc.Refresh(context.Background())
	require.Error(t, err)

	var refreshErr *dashboard.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, "forecast", refreshErr.Stage)
	assert.Equal(t, dashboard.KindNetwork, refreshErr.Kind)

	assert.Nil(t, svc.Snapshot())
	assert.Equal(t, []bool{false}, recorder.snapshot(), "a failed refresh still ends loading")

	st := svc.Status()
	assert.False(t, st.HasSnapshot)
	require.NotNil(t, st.LastError)
	assert.Equal(t, dashboard.KindNetwork, st.LastError.Kind)
}

func TestService_MalformedForecast(t *testing.T) {
	clock := &fakeClock{now: day0}
	forecast := &mockForecast{fn: func(_ context.Context, _, _ float64) (*weather.Forecast, error) {
		f := newForecast(0)
		f.Daily = nil
		return f, nil
	}}

	svc := newTestService(dashboard.ServiceConfig{Forecast: forecast}, clock)

	_, err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, weather.ErrEmptyForecast)
	assert.Equal(t, dashboard.KindMalformedResponse, dashboard.Classify(err))
}

func TestService_CachedForecastAfterProviderFailure(t *testing.T) {
	clock := &fakeClock{now: day0.Add(time.Hour)}
	upstream := &mockForecast{}
	cached := weather.NewCachingProvider(weather.CachingProviderConfig{
		Provider: upstream,
		Logger:   zerolog.Nop(),
		Now:      clock.Now,
	})
	svc := newTestService(dashboard.ServiceConfig{Forecast: cached}, clock)
	ctx := context.Background()

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, svc.Status().Stale)

	upstream.set(func(_ context.Context, _, _ float64) (*weather.Forecast, error) {
		return nil, fmt.Errorf("%w: unexpected status code: 503", weather.ErrProviderUnavailable)
	})
	clock.Set(day0.Add(90 * time.Minute))

	snap, err := svc.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, dashboard.KindNetwork, snap.Warnings[0].Kind)
	assert.Equal(t, "forecast", snap.Warnings[0].Source)

	st := svc.Status()
	assert.True(t, st.Stale, "a cached forecast served after a failure is stale")
	assert.Nil(t, st.LastError)

	require.NoError(t, svc.Tick(ctx, clock.Now()))
	assert.Len(t, svc.Snapshot().Warnings, 1, "the warning survives recomputation")

	upstream.set(nil)
	snap, err = svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Warnings)
	assert.False(t, svc.Status().Stale)
}

func TestService_AirQualityFailureDegrades(t *testing.T) {
	clock := &fakeClock{now: day0.Add(3 * time.Hour)}
	aq := &mockAirQuality{err: fmt.Errorf("%w: status 502", airquality.ErrProviderUnavailable)}

	svc := newTestService(dashboard.ServiceConfig{AirQuality: aq}, clock)

	snap, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.Nil(t, snap.Current.AQI)
	assert.False(t, snap.AQIAvailable)
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, "air_quality", snap.Warnings[0].Source)
	assert.Equal(t, dashboard.KindNetwork, snap.Warnings[0].Kind)
	assert.False(t, svc.Status().Stale)
}

func TestService_GeocodeReusedForSameLocation(t *testing.T) {
	clock := &fakeClock{now: day0.Add(time.Hour)}
	locator := &switchLocator{coords: amsterdam}
	geo := &mockGeocoder{addr: &geocode.Address{City: "Amsterdam", CountryCode: "nl"}}

	svc := newTestService(dashboard.ServiceConfig{Locator: locator, Geocoder: geo}, clock)

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, geo.callCount())

	snap, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, geo.callCount(), "same location does not geocode again")
	assert.Equal(t, "Amsterdam, NL", snap.Address.Label())

	locator.set(location.Coordinates{Lat: 48.85, Lon: 2.35}, nil)
	geo.setErr(fmt.Errorf("%w: status 500", geocode.ErrProviderUnavailable))

	snap, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, geo.callCount())
	assert.Nil(t, snap.Address, "a stale address for another place is not shown")
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, "geocode", snap.Warnings[0].Source)
}

func TestService_GeocodeNotFoundIsRetried(t *testing.T) {
	clock := &fakeClock{now: day0.Add(time.Hour)}
	geo := &mockGeocoder{err: geocode.ErrNotFound}

	svc := newTestService(dashboard.ServiceConfig{Geocoder: geo}, clock)

	snap, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Address)
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, dashboard.KindUnknown, snap.Warnings[0].Kind)

	// No address yet, so the same location is geocoded again.
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, geo.callCount())
}

func TestService_SetLocation(t *testing.T) {
	clock := &fakeClock{now: day0}
	var gotLat, gotLon float64
	forecast := &mockForecast{fn: func(_ context.Context, lat, lon float64) (*weather.Forecast, error) {
		gotLat, gotLon = lat, lon
		return newForecast(0), nil
	}}

	svc := dashboard.NewService(dashboard.ServiceConfig{
		Forecast: forecast,
		Logger:   zerolog.Nop(),
		Now:      clock.Now,
	})

	_, err := svc.Refresh(context.Background())
	assert.ErrorIs(t, err, location.ErrUnsupported)

	assert.ErrorIs(t, svc.SetLocation(location.Coordinates{Lat: 95}), location.ErrInvalidCoordinates)

	require.NoError(t, svc.SetLocation(location.Coordinates{Lat: 40.71, Lon: -74.01}))
	snap, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40.71, gotLat)
	assert.Equal(t, -74.01, gotLon)
	assert.Equal(t, location.Coordinates{Lat: 40.71, Lon: -74.01}, snap.Coords)
}

func TestService_Tick(t *testing.T) {
	clock := &fakeClock{now: day0.Add(5*time.Hour + 30*time.Minute)}
	svc := newTestService(dashboard.ServiceConfig{}, clock)

	assert.ErrorIs(t, svc.Tick(context.Background(), clock.Now()), dashboard.ErrNoSnapshot)

	first, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.Tick(context.Background(), day0.Add(7*time.Hour+5*time.Minute)))

	ticked := svc.Snapshot()
	assert.NotSame(t, first, ticked)
	assert.Equal(t, 7, ticked.HourlyIndex)
	assert.Equal(t, first.Seq, ticked.Seq)
	assert.Equal(t, first.FetchedAt, ticked.FetchedAt)
	assert.Equal(t, 5, first.HourlyIndex, "published snapshots are immutable")
}

func TestService_TickAdoptsSharedSnapshot(t *testing.T) {
	clock := &fakeClock{now: day0.Add(time.Hour)}
	shared := dashboard.NewInMemoryRepository()

	writer := newTestService(dashboard.ServiceConfig{Repository: shared}, clock)
	recorder := &loadingRecorder{}
	reader := newTestService(dashboard.ServiceConfig{Repository: shared, OnLoadingChange: recorder.record}, clock)

	_, err := writer.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, reader.Tick(context.Background(), day0.Add(2*time.Hour)))

	snap := reader.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.HourlyIndex)
	assert.Equal(t, []bool{false}, recorder.snapshot())

	st := reader.Status()
	assert.True(t, st.HasSnapshot)
	assert.False(t, st.Stale)
}

func TestService_TickKeepsInflightRefresh(t *testing.T) {
	clock := &fakeClock{now: day0.Add(3 * time.Hour)}
	shared := dashboard.NewInMemoryRepository()

	started := make(chan struct{})
	gate := make(chan struct{})
	readerForecast := &mockForecast{fn: func(ctx context.Context, lat, lon float64) (*weather.Forecast, error) {
		close(started)
		<-gate
		return fetchedAt(day0.Add(2*time.Hour))(ctx, lat, lon)
	}}

	writer := newTestService(dashboard.ServiceConfig{
		Forecast:   &mockForecast{fn: fetchedAt(day0.Add(150 * time.Minute))},
		Repository: shared,
	}, clock)
	reader := newTestService(dashboard.ServiceConfig{Forecast: readerForecast, Repository: shared}, clock)

	done := make(chan error, 1)
	go func() {
		_, err := reader.Refresh(context.Background())
		done <- err
	}()
	<-started

	_, err := writer.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, reader.Tick(context.Background(), clock.Now()))
	assert.Nil(t, reader.Snapshot(), "shared snapshot must wait for the in-flight refresh")

	close(gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not return")
	}

	snap := reader.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, day0.Add(2*time.Hour), snap.FetchedAt)
	assert.Nil(t, reader.Status().LastError)
}

func TestService_TickIgnoresSharedSnapshotForOtherLocation(t *testing.T) {
	clock := &fakeClock{now: day0.Add(3 * time.Hour)}
	shared := dashboard.NewInMemoryRepository()

	writer := newTestService(dashboard.ServiceConfig{
		Forecast:   &mockForecast{fn: fetchedAt(day0.Add(150 * time.Minute))},
		Repository: shared,
	}, clock)
	reader := newTestService(dashboard.ServiceConfig{Repository: shared}, clock)

	chosen := location.Coordinates{Lat: 10, Lon: 10}
	require.NoError(t, reader.SetLocation(chosen))
	_, err := reader.Refresh(context.Background())
	require.NoError(t, err)

	_, err = writer.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, reader.Tick(context.Background(), clock.Now()))
	snap := reader.Snapshot()
	assert.Equal(t, chosen, snap.Coords)
	assert.Equal(t, day0, snap.FetchedAt)

	// A refresh after the shared snapshot was seen still publishes.
	_, err = reader.Refresh(context.Background())
	require.NoError(t, err)
}

func TestService_Restore(t *testing.T) {
	clock := &fakeClock{now: day0.Add(4 * time.Hour)}
	repo := dashboard.NewInMemoryRepository()

	svc := newTestService(dashboard.ServiceConfig{Repository: repo}, clock)
	assert.ErrorIs(t, svc.Restore(context.Background()), dashboard.ErrNoSnapshot)

	saved, err := dashboard.Build(dashboard.BuildInput{Forecast: newForecast(0), Now: day0.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), saved))

	require.NoError(t, svc.Restore(context.Background()))

	snap := svc.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 4, snap.HourlyIndex)

	st := svc.Status()
	assert.True(t, st.Stale, "restored data is stale until refreshed")
	assert.False(t, st.Loading)
}

func TestService_StaleAfterAge(t *testing.T) {
	clock := &fakeClock{now: day0.Add(time.Hour)}
	svc := newTestService(dashboard.ServiceConfig{StaleAfter: time.Hour}, clock)

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, svc.Status().Stale)

	// FetchedAt is day0, so day0+1h01m is past the threshold.
	clock.Set(day0.Add(61 * time.Minute))
	assert.True(t, svc.Status().Stale)
}
