package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/provider/otf"
	"github.com/hitoshi/fitsync/internal/provider/strava"
	"github.com/hitoshi/fitsync/internal/provider/whoop"
	"github.com/hitoshi/fitsync/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	users   []*model.LinkedUser
	listErr error
}

func (m *mockUserRepo) FindByID(_ context.Context, _ string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) Create(_ context.Context, _ *model.User) error {
	return nil
}

func (m *mockUserRepo) ListWithLinkedProviders(_ context.Context) ([]*model.LinkedUser, error) {
	return m.users, m.listErr
}

type mockCredentialRepo struct {
	creds map[string]*model.ClassCredential
}

func (m *mockCredentialRepo) Find(_ context.Context, userID string) (*model.ClassCredential, error) {
	return m.creds[userID], nil
}

func (m *mockCredentialRepo) Upsert(_ context.Context, c *model.ClassCredential) error {
	m.creds[c.UserID] = c
	return nil
}

type mockTokenSource struct {
	accessTokenFn func(ctx context.Context, userID string, p model.Provider) (string, error)
	calls         []string
}

func (m *mockTokenSource) AccessToken(ctx context.Context, userID string, p model.Provider) (string, error) {
	m.calls = append(m.calls, userID+"/"+string(p))
	if m.accessTokenFn != nil {
		return m.accessTokenFn(ctx, userID, p)
	}
	return "token-" + userID, nil
}

type mockWhoop struct {
	fetchRangeFn func(ctx context.Context, accessToken string, start, end time.Time) (*whoop.Range, error)
}

func (m *mockWhoop) FetchRange(ctx context.Context, accessToken string, start, end time.Time) (*whoop.Range, error) {
	if m.fetchRangeFn != nil {
		return m.fetchRangeFn(ctx, accessToken, start, end)
	}
	return &whoop.Range{}, nil
}

type mockStrava struct {
	listActivitiesFn func(ctx context.Context, accessToken string, afterUnix int64) ([]strava.Activity, error)
	getStreamsFn     func(ctx context.Context, accessToken string, activityID int64, keys []string) (strava.Streams, error)
	streamCalls      []int64
}

func (m *mockStrava) ListActivities(ctx context.Context, accessToken string, afterUnix int64) ([]strava.Activity, error) {
	if m.listActivitiesFn != nil {
		return m.listActivitiesFn(ctx, accessToken, afterUnix)
	}
	return nil, nil
}

func (m *mockStrava) GetStreams(ctx context.Context, accessToken string, activityID int64, keys []string) (strava.Streams, error) {
	m.streamCalls = append(m.streamCalls, activityID)
	if m.getStreamsFn != nil {
		return m.getStreamsFn(ctx, accessToken, activityID, keys)
	}
	return strava.Streams{}, nil
}

type mockClasses struct {
	fetchFn func(ctx context.Context, username, password string) ([]otf.ClassRecord, error)
}

func (m *mockClasses) FetchRecentClasses(ctx context.Context, username, password string) ([]otf.ClassRecord, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, username, password)
	}
	return nil, nil
}

// prefixVault は"enc:"接頭辞を外すだけの復号モック。
type prefixVault struct{}

func (prefixVault) Decrypt(s string) (string, error) {
	if !strings.HasPrefix(s, "enc:") {
		return "", errors.New("malformed ciphertext")
	}
	return strings.TrimPrefix(s, "enc:"), nil
}

type mockWorkoutRepo struct {
	byIdentity map[model.WorkoutIdentity]*model.CanonicalWorkout
	createErr  error
	hrrErr     error
}

func newMockWorkoutRepo() *mockWorkoutRepo {
	return &mockWorkoutRepo{byIdentity: make(map[model.WorkoutIdentity]*model.CanonicalWorkout)}
}

func (m *mockWorkoutRepo) FindByIdentity(_ context.Context, id model.WorkoutIdentity) (*model.CanonicalWorkout, error) {
	w, ok := m.byIdentity[id]
	if !ok {
		return nil, nil
	}
	copied := *w
	return &copied, nil
}

func (m *mockWorkoutRepo) Create(_ context.Context, w *model.CanonicalWorkout) error {
	if m.createErr != nil {
		return m.createErr
	}
	copied := *w
	m.byIdentity[w.Identity] = &copied
	return nil
}

func (m *mockWorkoutRepo) Update(_ context.Context, w *model.CanonicalWorkout) error {
	stored := m.byIdentity[w.Identity]
	stored.Start, stored.End, stored.AvgHR, stored.MaxHR = w.Start, w.End, w.AvgHR, w.MaxHR
	return nil
}

func (m *mockWorkoutRepo) UpdateHRR(_ context.Context, workoutID string, value int) error {
	if m.hrrErr != nil {
		return m.hrrErr
	}
	for _, w := range m.byIdentity {
		if w.ID == workoutID {
			v := value
			w.HRR2Min = &v
			return nil
		}
	}
	return errors.New("workout not found")
}

func (m *mockWorkoutRepo) get(p model.Provider, id int64) *model.CanonicalWorkout {
	return m.byIdentity[model.WorkoutIdentity{Provider: p, NativeID: id}]
}

type mockHrvRepo struct {
	records map[string]*model.HrvDailyRecord
}

func newMockHrvRepo() *mockHrvRepo {
	return &mockHrvRepo{records: make(map[string]*model.HrvDailyRecord)}
}

func (m *mockHrvRepo) Upsert(_ context.Context, r *model.HrvDailyRecord) (bool, error) {
	key := r.UserID + "|" + r.Date.Format("2006-01-02") + "|" + string(r.Source)
	_, exists := m.records[key]
	m.records[key] = r
	return !exists, nil
}

type mockRecorder struct {
	runs           int
	userFailures   int
	providerErrors map[string]int
	workouts       map[string]int
	hrr            map[string]int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{providerErrors: map[string]int{}, workouts: map[string]int{}, hrr: map[string]int{}}
}

func (m *mockRecorder) RecordSyncRun(_ time.Duration) {
	m.runs++
}

func (m *mockRecorder) RecordUserFailure() {
	m.userFailures++
}

func (m *mockRecorder) RecordProviderError(p model.Provider, kind model.ErrorKind) {
	m.providerErrors[string(p)+"/"+string(kind)]++
}

func (m *mockRecorder) RecordWorkoutUpserted(p model.Provider, outcome string) {
	m.workouts[string(p)+"/"+outcome]++
}

func (m *mockRecorder) RecordHRR(outcome string) {
	m.hrr[outcome]++
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.ClassCredentialRepository = (*mockCredentialRepo)(nil)
var _ repository.WorkoutRepository = (*mockWorkoutRepo)(nil)
var _ repository.HrvRepository = (*mockHrvRepo)(nil)
var _ TokenSource = (*mockTokenSource)(nil)
var _ WhoopAPI = (*mockWhoop)(nil)
var _ StravaAPI = (*mockStrava)(nil)
var _ ClassAPI = (*mockClasses)(nil)
var _ Decrypter = prefixVault{}
var _ Recorder = (*mockRecorder)(nil)
