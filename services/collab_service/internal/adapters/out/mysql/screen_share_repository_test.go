package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	collaberr "github.com/EthanQC/hrportal/services/collab_service/pkg/errors"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newSession(id string, channelID, roomID uint64, startedAt time.Time) *entity.ScreenShareSession {
	return &entity.ScreenShareSession{
		SessionID:    id,
		Sharer:       entity.Participant{Type: "employee", ID: 1, Name: "Ada"},
		ChannelID:    channelID,
		RoomID:       roomID,
		ShareType:    entity.ShareTypeScreen,
		AllowControl: true,
		Status:       entity.SessionStatusActive,
		StartedAt:    startedAt,
		SiteCode:     "SH",
	}
}

func TestScreenShareRepository_CreateAndGet(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewScreenShareRepositoryMySQL(newTestDB(t))

	req.NoError(repo.Create(ctx, newSession("s-1", 10, 0, t0)))

	got, err := repo.GetBySessionID(ctx, "s-1")
	req.NoError(err)
	req.NotNil(got)
	req.Equal("Ada", got.Sharer.Name)
	req.Equal(uint64(10), got.ChannelID)
	req.Zero(got.RoomID)
	req.True(got.StartedAt.Equal(t0))
	req.Nil(got.EndedAt)
	req.Nil(got.DurationSeconds)
	req.Equal(entity.Target{Kind: entity.TargetChannel, ID: 10}, got.Target())

	missing, err := repo.GetBySessionID(ctx, "nope")
	req.NoError(err)
	req.Nil(missing)
}

func TestScreenShareRepository_DuplicateSessionID(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewScreenShareRepositoryMySQL(newTestDB(t))

	req.NoError(repo.Create(ctx, newSession("dup", 10, 0, t0)))
	err := repo.Create(ctx, newSession("dup", 11, 0, t0))

	req.ErrorIs(err, collaberr.ErrSessionAlreadyActive)
}

func TestScreenShareRepository_FindActive(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewScreenShareRepositoryMySQL(newTestDB(t))

	// Given a room session and two channel sessions, the newer one still active
	req.NoError(repo.Create(ctx, newSession("room", 0, 10, t0)))
	req.NoError(repo.Create(ctx, newSession("old", 10, 0, t0)))
	req.NoError(repo.Create(ctx, newSession("new", 10, 0, t0.Add(time.Minute))))

	// When looking up channel 10
	got, err := repo.FindActive(ctx, entity.Target{Kind: entity.TargetChannel, ID: 10})

	// Then the newest active channel session wins and the room does not leak in
	req.NoError(err)
	req.Equal("new", got.SessionID)

	room, err := repo.FindActive(ctx, entity.Target{Kind: entity.TargetRoom, ID: 10})
	req.NoError(err)
	req.Equal("room", room.SessionID)

	none, err := repo.FindActive(ctx, entity.Target{Kind: entity.TargetRoom, ID: 99})
	req.NoError(err)
	req.Nil(none)
}

func TestScreenShareRepository_CreateStampsStartFromDatabase(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewScreenShareRepositoryMySQL(newTestDB(t))

	// Given a session without a start time
	session := newSession("s-1", 10, 0, time.Time{})
	before := time.Now().UTC().Add(-2 * time.Second)

	// When it is created
	req.NoError(repo.Create(ctx, session))

	// Then the database clock fills it and the stored row matches
	req.False(session.StartedAt.IsZero())
	req.WithinDuration(time.Now().UTC(), session.StartedAt, 5*time.Second)
	req.False(session.StartedAt.Before(before.Truncate(time.Second)))

	got, err := repo.GetBySessionID(ctx, "s-1")
	req.NoError(err)
	req.True(got.StartedAt.Equal(session.StartedAt))
}

func TestScreenShareRepository_MarkEnded(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewScreenShareRepositoryMySQL(newTestDB(t))
	startedAt := time.Now().UTC().Truncate(time.Second).Add(-90 * time.Second)
	req.NoError(repo.Create(ctx, newSession("s-1", 10, 0, startedAt)))

	// When the session started 90 seconds ago is ended
	ended, err := repo.MarkEnded(ctx, "s-1")

	// Then status, end time and duration come from the database clock
	req.NoError(err)
	req.NotNil(ended)
	req.Equal(entity.SessionStatusEnded, ended.Status)
	req.NotNil(ended.EndedAt)
	req.False(ended.EndedAt.Before(ended.StartedAt))
	req.WithinDuration(time.Now().UTC(), *ended.EndedAt, 5*time.Second)
	req.NotNil(ended.DurationSeconds)
	req.GreaterOrEqual(*ended.DurationSeconds, int64(0))
	req.InDelta(90, *ended.DurationSeconds, 5)
	req.Equal(int64(ended.EndedAt.Sub(ended.StartedAt)/time.Second), *ended.DurationSeconds)

	// When ending again nothing matches
	again, err := repo.MarkEnded(ctx, "s-1")
	req.NoError(err)
	req.Nil(again)

	stored, err := repo.GetBySessionID(ctx, "s-1")
	req.NoError(err)
	req.Equal(*ended.DurationSeconds, *stored.DurationSeconds)

	active, err := repo.FindActive(ctx, entity.Target{Kind: entity.TargetChannel, ID: 10})
	req.NoError(err)
	req.Nil(active)
}

func TestScreenShareRepository_EndStale(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewScreenShareRepositoryMySQL(newTestDB(t))

	// Given a session running for 48h, one for 1h and an already ended one
	now := time.Now().UTC().Truncate(time.Second)
	req.NoError(repo.Create(ctx, newSession("stale", 10, 0, now.Add(-48*time.Hour))))
	req.NoError(repo.Create(ctx, newSession("fresh", 11, 0, now.Add(-time.Hour))))
	req.NoError(repo.Create(ctx, newSession("done", 12, 0, now.Add(-48*time.Hour))))
	done, err := repo.MarkEnded(ctx, "done")
	req.NoError(err)

	// When sessions older than 24h are ended
	ids, cutoff, err := repo.EndStale(ctx, 24*time.Hour)

	// Then only the long running active session is ended
	req.NoError(err)
	req.Equal([]string{"stale"}, ids)
	req.WithinDuration(now.Add(-24*time.Hour), cutoff, 5*time.Second)

	stale, err := repo.GetBySessionID(ctx, "stale")
	req.NoError(err)
	req.Equal(entity.SessionStatusEnded, stale.Status)
	req.GreaterOrEqual(*stale.DurationSeconds, int64(0))
	req.InDelta(48*3600, *stale.DurationSeconds, 5)

	stored, err := repo.GetBySessionID(ctx, "done")
	req.NoError(err)
	req.Equal(*done.DurationSeconds, *stored.DurationSeconds)
	req.True(stored.EndedAt.Equal(*done.EndedAt))

	active, err := repo.ListActive(ctx)
	req.NoError(err)
	req.Len(active, 1)
	req.Equal("fresh", active[0].SessionID)

	// When nothing is stale the sweep is a no-op
	ids, _, err = repo.EndStale(ctx, 24*time.Hour)
	req.NoError(err)
	req.Empty(ids)
}

func TestScreenShareRepository_ListHistory(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewScreenShareRepositoryMySQL(newTestDB(t))

	for i, id := range []string{"a", "b", "c"} {
		req.NoError(repo.Create(ctx, newSession(id, 0, 7, t0.Add(time.Duration(i)*time.Minute))))
	}
	req.NoError(repo.Create(ctx, newSession("other", 7, 0, t0)))

	history, err := repo.ListHistory(ctx, entity.Target{Kind: entity.TargetRoom, ID: 7}, 2)

	req.NoError(err)
	req.Len(history, 2)
	req.Equal("c", history[0].SessionID)
	req.Equal("b", history[1].SessionID)
}

func TestScreenShareRepository_Viewers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewScreenShareRepositoryMySQL(newTestDB(t))
	req.NoError(repo.Create(ctx, newSession("s-1", 10, 0, t0)))

	// Given viewer 2 joined twice and viewer 3 once
	for _, v := range []entity.Viewer{
		{SessionID: "s-1", ViewerType: "employee", ViewerID: 2, ViewerName: "Bo", JoinedAt: t0},
		{SessionID: "s-1", ViewerType: "employee", ViewerID: 3, ViewerName: "Cy", JoinedAt: t0.Add(time.Second)},
		{SessionID: "s-1", ViewerType: "employee", ViewerID: 2, ViewerName: "Bo", JoinedAt: t0.Add(2 * time.Second)},
	} {
		v := v
		req.NoError(repo.AddViewer(ctx, &v))
	}

	// When viewer 2 leaves
	n, err := repo.MarkViewerLeft(ctx, "s-1", "employee", 2, t0.Add(time.Minute))

	// Then both of its open rows are closed
	req.NoError(err)
	req.Equal(int64(2), n)

	open, err := repo.ListOpenViewers(ctx, "s-1")
	req.NoError(err)
	req.Len(open, 1)
	req.Equal(uint64(3), open[0].ViewerID)
	req.Nil(open[0].LeftAt)

	// And a different viewer type with the same id is untouched
	n, err = repo.MarkViewerLeft(ctx, "s-1", "applicant", 3, t0.Add(time.Minute))
	req.NoError(err)
	req.Zero(n)
}
