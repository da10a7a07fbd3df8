package tracking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"route-tracking/internal/matcher"
	"route-tracking/internal/models"

	"github.com/sirupsen/logrus"
)

// ----------------------------------------------------------------------------
// fakeRepo keeps active tracks by route ID.
// ----------------------------------------------------------------------------
type fakeRepo struct {
	tracks  map[string]*models.ActiveTrack
	findErr error
	// staleRead, when set, is returned by the next FindActiveTrack instead of
	// the stored track, like a read taken before another writer committed.
	staleRead *models.ActiveTrack
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tracks: make(map[string]*models.ActiveTrack)}
}

func (f *fakeRepo) FindActiveTrack(ctx context.Context, routeID string) (*models.ActiveTrack, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.staleRead != nil {
		cp := *f.staleRead
		f.staleRead = nil
		return &cp, nil
	}
	t, ok := f.tracks[routeID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRepo) CreateActiveTrack(ctx context.Context, t *models.ActiveTrack) error {
	if _, ok := f.tracks[t.RouteID]; ok {
		return models.ErrConflict
	}
	cp := *t
	f.tracks[t.RouteID] = &cp
	return nil
}

func (f *fakeRepo) UpdateActiveTrack(ctx context.Context, t *models.ActiveTrack) (bool, error) {
	cur, ok := f.tracks[t.RouteID]
	if !ok || cur.ID != t.ID || cur.RecordedAt.After(t.RecordedAt) {
		return false, nil
	}
	cp := *t
	f.tracks[t.RouteID] = &cp
	return true, nil
}

func (f *fakeRepo) DeleteActiveTrack(ctx context.Context, routeID string) error {
	if _, ok := f.tracks[routeID]; !ok {
		return models.ErrNotFound
	}
	delete(f.tracks, routeID)
	return nil
}

// fakeRoutes serves waypoints for known routes.
type fakeRoutes struct {
	waypoints map[string][]*models.Waypoint
}

func (f *fakeRoutes) GetRoute(ctx context.Context, routeID string) (*models.Route, error) {
	if _, ok := f.waypoints[routeID]; !ok {
		return nil, models.ErrNotFound
	}
	return &models.Route{ID: routeID, Name: routeID}, nil
}

func (f *fakeRoutes) ListWaypoints(ctx context.Context, routeID string) ([]*models.Waypoint, error) {
	wps, ok := f.waypoints[routeID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return wps, nil
}

// failingFeed always fails to publish.
type failingFeed struct{ *MemoryFeed }

func (failingFeed) Publish(ctx context.Context, ev models.PositionEvent) error {
	return errors.New("feed down")
}

// ----------------------------------------------------------------------------

var start = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

// metersPerDegree is the haversine length of one degree along the equator.
const metersPerDegree = matcher.EarthRadiusMeters * 3.141592653589793 / 180

// routeAlongEquator builds n waypoints 100m and 60s apart.
func routeAlongEquator(id string, n int) []*models.Waypoint {
	var out []*models.Waypoint
	for i := 0; i < n; i++ {
		out = append(out, &models.Waypoint{
			ID:         fmt.Sprintf("%s-wp%d", id, i),
			RouteID:    id,
			Order:      i,
			Longitude:  float64(i) * 100 / metersPerDegree,
			RecordedAt: start.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(fr *fakeRepo, feed Feed) *service {
	rr := &fakeRoutes{waypoints: map[string][]*models.Waypoint{
		"r1":    routeAlongEquator("r1", 6),
		"short": routeAlongEquator("short", 1),
	}}
	svc := NewService(fr, rr, feed, Options{}, quietLogger()).(*service)
	svc.now = func() time.Time { return start.Add(time.Hour) }
	return svc
}

func posReq(lat, lon float64) models.PositionRequest {
	return models.PositionRequest{Latitude: lat, Longitude: lon}
}

func TestStartAndStopTrack(t *testing.T) {
	fr := newFakeRepo()
	svc := newTestService(fr, NewMemoryFeed())
	ctx := context.Background()

	tr, err := svc.StartTrack(ctx, "r1", posReq(0, 0))
	if err != nil {
		t.Fatalf("StartTrack error: %v", err)
	}
	if tr.RouteID != "r1" || tr.ID == "" {
		t.Errorf("StartTrack returned %+v", tr)
	}

	if _, err := svc.StartTrack(ctx, "r1", posReq(0, 0)); !errors.Is(err, models.ErrConflict) {
		t.Errorf("second StartTrack err = %v; want ErrConflict", err)
	}
	if _, err := svc.StartTrack(ctx, "unknown", posReq(0, 0)); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("StartTrack(unknown) err = %v; want ErrNotFound", err)
	}
	if _, err := svc.StartTrack(ctx, "r1", posReq(95, 0)); !errors.Is(err, models.ErrInvalidPosition) {
		t.Errorf("StartTrack(lat 95) err = %v; want ErrInvalidPosition", err)
	}

	if err := svc.StopTrack(ctx, "r1"); err != nil {
		t.Fatalf("StopTrack error: %v", err)
	}
	if _, err := svc.GetActiveTrack(ctx, "r1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetActiveTrack after stop err = %v; want ErrNotFound", err)
	}
	if err := svc.StopTrack(ctx, "r1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second StopTrack err = %v; want ErrNotFound", err)
	}
}

func TestRecordPosition(t *testing.T) {
	fr := newFakeRepo()
	feed := NewMemoryFeed()
	svc := newTestService(fr, feed)
	ctx := context.Background()

	events, cancel, err := svc.Subscribe(ctx, "r1")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer cancel()

	// no track yet: the first sample starts one
	tr, recorded, err := svc.RecordPosition(ctx, "r1", posReq(0, 0))
	if err != nil || !recorded {
		t.Fatalf("RecordPosition = %v, %v; want recorded", recorded, err)
	}
	firstID := tr.ID

	// 10m further: ignored
	_, recorded, err = svc.RecordPosition(ctx, "r1", posReq(0, 10/metersPerDegree))
	if err != nil || recorded {
		t.Errorf("small move recorded = %v, err = %v; want ignored", recorded, err)
	}

	// 50m further: stored on the same track
	tr, recorded, err = svc.RecordPosition(ctx, "r1", posReq(0, 50/metersPerDegree))
	if err != nil || !recorded {
		t.Fatalf("RecordPosition = %v, %v; want recorded", recorded, err)
	}
	if tr.ID != firstID {
		t.Errorf("track ID changed from %s to %s", firstID, tr.ID)
	}
	if got := fr.tracks["r1"].Longitude; got != 50/metersPerDegree {
		t.Errorf("stored longitude = %v; want %v", got, 50/metersPerDegree)
	}

	// older sample: ignored
	old := start
	req := posReq(0, 300/metersPerDegree)
	req.RecordedAt = &old
	if _, recorded, _ := svc.RecordPosition(ctx, "r1", req); recorded {
		t.Errorf("out of order sample was recorded")
	}

	// two stored positions, two events
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if ev.RouteID != "r1" {
				t.Errorf("event RouteID = %s; want r1", ev.RouteID)
			}
		default:
			t.Fatalf("expected event %d on the feed", i+1)
		}
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected extra event %+v", ev)
	default:
	}
}

func TestRecordPositionKeepsNewerConcurrentSample(t *testing.T) {
	fr := newFakeRepo()
	feed := NewMemoryFeed()
	svc := newTestService(fr, feed)
	ctx := context.Background()

	nine, ten, eleven := start.Add(time.Hour), start.Add(2*time.Hour), start.Add(3*time.Hour)
	fr.tracks["r1"] = &models.ActiveTrack{ID: "t1", RouteID: "r1", Longitude: 0.02, RecordedAt: eleven}
	// this writer read the track before the 11:00 sample was stored
	fr.staleRead = &models.ActiveTrack{ID: "t1", RouteID: "r1", Longitude: 0, RecordedAt: nine}

	events, cancel, err := svc.Subscribe(ctx, "r1")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer cancel()

	req := posReq(0, 0.01)
	req.RecordedAt = &ten
	tr, recorded, err := svc.RecordPosition(ctx, "r1", req)
	if err != nil {
		t.Fatalf("RecordPosition error: %v", err)
	}
	if recorded {
		t.Errorf("older sample reported as recorded")
	}
	if tr == nil || !tr.RecordedAt.Equal(eleven) {
		t.Errorf("returned track = %+v; want the 11:00 sample", tr)
	}
	if got := fr.tracks["r1"]; !got.RecordedAt.Equal(eleven) || got.Longitude != 0.02 {
		t.Errorf("stored track = %+v; want the 11:00 sample kept", got)
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected event %+v for an ignored sample", ev)
	default:
	}
}

func TestRecordPositionFeedFailureKeepsPosition(t *testing.T) {
	fr := newFakeRepo()
	svc := newTestService(fr, failingFeed{NewMemoryFeed()})

	_, recorded, err := svc.RecordPosition(context.Background(), "r1", posReq(0, 0))
	if err != nil || !recorded {
		t.Fatalf("RecordPosition = %v, %v; want recorded despite feed failure", recorded, err)
	}
	if _, ok := fr.tracks["r1"]; !ok {
		t.Errorf("track not stored")
	}
}

func TestRecordPositionRepoError(t *testing.T) {
	fr := newFakeRepo()
	fr.findErr = errors.New("connection reset")
	svc := newTestService(fr, NewMemoryFeed())

	if _, _, err := svc.RecordPosition(context.Background(), "r1", posReq(0, 0)); err == nil {
		t.Errorf("RecordPosition err = nil; want repository error")
	}
}

func TestEstimateArrival(t *testing.T) {
	ctx := context.Background()
	wp := func(i int) models.Position { return models.Position{Longitude: float64(i) * 100 / metersPerDegree} }

	tests := []struct {
		name     string
		routeID  string
		mover    *models.Position
		ref      models.Position
		findErr  error
		want     matcher.Outcome
		minutes  int
		wantErr  bool
		notFound bool
	}{
		{name: "not tracked", routeID: "r1", ref: wp(3), want: matcher.OutcomeNotTracked},
		{name: "in transit", routeID: "r1", mover: ptr(wp(1)), ref: wp(4), want: matcher.OutcomeInTransit, minutes: 3},
		{name: "already passed", routeID: "r1", mover: ptr(wp(5)), ref: wp(2), want: matcher.OutcomeAlreadyPassed},
		{name: "imminent", routeID: "r1", mover: ptr(wp(2)), ref: wp(2), want: matcher.OutcomeArrivingImminently},
		{name: "single waypoint", routeID: "short", mover: ptr(wp(0)), ref: wp(0), want: matcher.OutcomeInsufficientData},
		{name: "unknown route", routeID: "nope", ref: wp(0), wantErr: true, notFound: true},
		{name: "repository failure", routeID: "r1", ref: wp(0), findErr: errors.New("timeout"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := newFakeRepo()
			fr.findErr = tt.findErr
			if tt.mover != nil {
				fr.tracks[tt.routeID] = &models.ActiveTrack{
					ID: "t1", RouteID: tt.routeID,
					Latitude: tt.mover.Latitude, Longitude: tt.mover.Longitude,
					RecordedAt: start.Add(time.Hour),
				}
			}
			svc := newTestService(fr, NewMemoryFeed())

			est, err := svc.EstimateArrival(ctx, tt.routeID, tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("EstimateArrival err = nil; want error")
				}
				if tt.notFound && !errors.Is(err, models.ErrNotFound) {
					t.Errorf("EstimateArrival err = %v; want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("EstimateArrival error: %v", err)
			}
			if est.Outcome != tt.want {
				t.Errorf("Outcome = %s; want %s", est.Outcome, tt.want)
			}
			if est.Minutes != tt.minutes {
				t.Errorf("Minutes = %d; want %d", est.Minutes, tt.minutes)
			}
		})
	}
}

func ptr(p models.Position) *models.Position { return &p }
