package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"opportunist/internal/config"
	"opportunist/internal/models"
)

func testDBConfig() config.DBConfig {
	c := config.SpiderConfig{}
	c.SetDefaults()
	return c.DB
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "duplicate key", err: mongo.CommandError{Code: 11000, Message: "E11000 duplicate key error"}, want: models.ErrDuplicate},
		{name: "network", err: mongo.CommandError{Code: 6, Labels: []string{"NetworkError"}}, want: models.ErrStorageUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: models.ErrStorageUnavailable},
		{name: "disconnected", err: mongo.ErrClientDisconnected, want: models.ErrStorageUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("op", tt.err), tt.want)
		})
	}

	assert.NoError(t, mapError("op", nil))

	plain := mapError("op", errors.New("boom"))
	assert.EqualError(t, plain, "op: boom")
	assert.False(t, errors.Is(plain, models.ErrStorageUnavailable))
}

func TestMongoDB_Mock(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	posting := models.ScoredPosting{
		Posting: models.Posting{
			Title:    "Research Intern",
			Category: models.CategoryInternship,
			Link:     "https://example.org/jobs/1",
			PostedAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Score: 0.9,
		Hash:  "abc",
	}

	mt.Run("insert posting", func(mt *mtest.T) {
		store := NewMongoDBFromDatabase(mt.DB, testDBConfig())
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		id, err := store.InsertPosting(context.Background(), posting)
		require.NoError(mt, err)
		assert.NotEmpty(mt, id)
	})

	mt.Run("insert duplicate posting", func(mt *mtest.T) {
		store := NewMongoDBFromDatabase(mt.DB, testDBConfig())
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		_, err := store.InsertPosting(context.Background(), posting)
		assert.ErrorIs(mt, err, models.ErrDuplicate)
	})

	mt.Run("exists by hash", func(mt *mtest.T) {
		store := NewMongoDBFromDatabase(mt.DB, testDBConfig())
		ns := fmt.Sprintf("%s.%s", mt.DB.Name(), "opportunities")
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: 1},
			{Key: "n", Value: 1},
		}))

		ok, err := store.ExistsByHash(context.Background(), "abc")
		require.NoError(mt, err)
		assert.True(mt, ok)
	})

	mt.Run("query postings", func(mt *mtest.T) {
		store := NewMongoDBFromDatabase(mt.DB, testDBConfig())
		ns := fmt.Sprintf("%s.%s", mt.DB.Name(), "opportunities")
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: "p1"},
				{Key: "title", Value: "ML Engineer"},
				{Key: "category", Value: "job"},
				{Key: "score", Value: 0.95},
				{Key: "hash_key", Value: "h1"},
			},
			bson.D{
				{Key: "_id", Value: "p2"},
				{Key: "title", Value: "Data Engineer"},
				{Key: "category", Value: "job"},
				{Key: "score", Value: 0.81},
				{Key: "hash_key", Value: "h2"},
			},
		))

		got, err := store.QueryPostings(context.Background(), models.CategoryJob, 0.7, time.Time{}, 10)
		require.NoError(mt, err)
		require.Len(mt, got, 2)
		assert.Equal(mt, "p1", got[0].ID)
		assert.Equal(mt, "ML Engineer", got[0].Title)
		assert.InDelta(mt, 0.95, got[0].Score, 1e-9)
		assert.Equal(mt, models.CategoryJob, got[1].Category)
	})

	mt.Run("mark digest sent for unknown user", func(mt *mtest.T) {
		store := NewMongoDBFromDatabase(mt.DB, testDBConfig())
		mt.AddMockResponses(bson.D{
			{Key: "ok", Value: 1},
			{Key: "n", Value: 0},
			{Key: "nModified", Value: 0},
		})

		err := store.MarkDigestSent(context.Background(), "nobody@example.org", time.Now())
		assert.ErrorContains(mt, err, "not found")
	})

	mt.Run("open creates indexes", func(mt *mtest.T) {
		for i := 0; i < 4; i++ {
			mt.AddMockResponses(mtest.CreateSuccessResponse())
		}

		store, err := openMongoDB(context.Background(), mt.DB, testDBConfig())
		require.NoError(mt, err)
		require.NotNil(mt, store)

		var created []string
		for _, ev := range mt.GetAllStartedEvents() {
			if ev.CommandName == "createIndexes" {
				created = append(created, ev.Command.Lookup("createIndexes").StringValue())
			}
		}
		assert.Equal(mt, []string{"opportunities", "raw_pages", "crawl_logs", "users"}, created)
	})

	mt.Run("open fails when indexes cannot be created", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    6,
			Message: "host unreachable",
			Labels:  []string{"NetworkError"},
		}))

		_, err := openMongoDB(context.Background(), mt.DB, testDBConfig())
		assert.ErrorIs(mt, err, models.ErrStorageUnavailable)
	})
}
