package repository

import (
	"context"
	"courtcam/apperr"
	"courtcam/config"
	"courtcam/constant"
	"courtcam/entities"
	"fmt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"sync"
	"testing"
)

func newTestRepo(t *testing.T) AssetRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := config.NewDB(config.Database{Driver: "sqlite", DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", name)}, "test")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	r := NewRepo(db)
	require.NoError(t, r.Migrate(context.Background()))
	return r
}

func TestCreateAndFindAsset(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	a := &entities.Asset{Kind: constant.AssetKindUpload, Path: "uploads/match.mp4", Width: 1280, Height: 720, Frames: 300, FPS: 30}
	require.NoError(t, r.CreateAsset(ctx, a))
	require.NotEqual(t, uuid.Nil, a.ID)

	got, err := r.FindAssetById(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "uploads/match.mp4", got.Path)
	assert.Equal(t, constant.AssetKindUpload, got.Kind)

	_, err = r.FindAssetById(ctx, uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListAssetsByKind(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for _, k := range []constant.AssetKind{constant.AssetKindUpload, constant.AssetKindRecording, constant.AssetKindUpload} {
		require.NoError(t, r.CreateAsset(ctx, &entities.Asset{Kind: k, Path: string(k)}))
	}

	uploads, err := r.ListAssets(ctx, constant.AssetKindUpload, 0)
	require.NoError(t, err)
	assert.Len(t, uploads, 2)

	all, err := r.ListAssets(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTokenIsSingleUse(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a := &entities.Asset{Kind: constant.AssetKindRecording, Path: "recordings/match.mp4"}
	require.NoError(t, r.CreateAsset(ctx, a))

	tok, err := r.IssueToken(ctx, a.ID)
	require.NoError(t, err)

	got, err := r.ConsumeToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = r.ConsumeToken(ctx, tok.Token)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIssueTokenUnknownAsset(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.IssueToken(context.Background(), uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentConsumeHasOneWinner(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a := &entities.Asset{Kind: constant.AssetKindUpload, Path: "uploads/a.mp4"}
	require.NoError(t, r.CreateAsset(ctx, a))
	tok, err := r.IssueToken(ctx, a.ID)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.ConsumeToken(ctx, tok.Token); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, apperr.ErrNotFound)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
