package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"

	"opportunist/internal/config"
	"opportunist/internal/models"
)

const (
	connectTimeout = 10 * time.Second
	queryTimeout   = 10 * time.Second
	writeTimeout   = 5 * time.Second
)

// StatusStat aggregates crawl attempts sharing one status.
type StatusStat struct {
	Status     models.AttemptStatus `bson:"_id" json:"status"`
	Count      int                  `bson:"count" json:"count"`
	AvgLatency time.Duration        `bson:"avg_latency" json:"avg_latency"`
}

type CleanupResult struct {
	RawPages      int64
	CrawlAttempts int64
}

type MongoDB struct {
	client        *mongo.Client
	database      *mongo.Database
	postings      *mongo.Collection
	rawPages      *mongo.Collection
	crawlAttempts *mongo.Collection
	users         *mongo.Collection
	cfg           config.DBConfig
}

func NewMongoDB(ctx context.Context, cfg config.DBConfig) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("%w: connect to MongoDB: %v", models.ErrStorageUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping MongoDB: %v", models.ErrStorageUnavailable, err)
	}

	d, err := openMongoDB(ctx, client.Database(cfg.Database), cfg)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return d, nil
}

// NewMongoDBFromDatabase wraps an already connected database.
func NewMongoDBFromDatabase(db *mongo.Database, cfg config.DBConfig) *MongoDB {
	return &MongoDB{
		client:        db.Client(),
		database:      db,
		postings:      db.Collection(cfg.Collections.Postings),
		rawPages:      db.Collection(cfg.Collections.RawPages),
		crawlAttempts: db.Collection(cfg.Collections.CrawlAttempts),
		users:         db.Collection(cfg.Collections.Users),
		cfg:           cfg,
	}
}

// openMongoDB wraps db and makes sure the unique hash_key and email
// indexes exist before any write can reach the collections.
func openMongoDB(ctx context.Context, db *mongo.Database, cfg config.DBConfig) (*MongoDB, error) {
	d := NewMongoDBFromDatabase(db, cfg)
	if err := d.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// EnsureIndexes creates the uniqueness, query and retention indexes.
func (d *MongoDB) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	days := func(n int) int32 { return int32(n * 24 * 60 * 60) }

	specs := []struct {
		coll    *mongo.Collection
		indexes []mongo.IndexModel
	}{
		{d.postings, []mongo.IndexModel{
			{Keys: bson.D{{Key: "hash_key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "posted_at", Value: -1}}},
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "score", Value: -1}}},
			{Keys: bson.D{{Key: "crawled_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(days(d.cfg.PostingTTLDays))},
		}},
		{d.rawPages, []mongo.IndexModel{
			{Keys: bson.D{{Key: "url", Value: 1}}},
			{Keys: bson.D{{Key: "source_domain", Value: 1}}},
			{Keys: bson.D{{Key: "crawled_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(days(d.cfg.RawPageTTLDays))},
		}},
		{d.crawlAttempts, []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "crawled_at", Value: -1}}},
			{Keys: bson.D{{Key: "crawled_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(days(d.cfg.CrawlLogTTLDays))},
		}},
		{d.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "active", Value: 1}}},
		}},
	}

	for _, s := range specs {
		if _, err := s.coll.Indexes().CreateMany(ctx, s.indexes); err != nil {
			return mapError("create indexes on "+s.coll.Name(), err)
		}
	}
	return nil
}

// mapError folds driver errors into the models error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, models.ErrDuplicate)
	}
	var selErr topology.ServerSelectionError
	if mongo.IsNetworkError(err) ||
		mongo.IsTimeout(err) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		errors.As(err, &selErr) {
		return fmt.Errorf("%s: %w: %v", op, models.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *MongoDB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return mapError("ping", d.client.Ping(ctx, nil))
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// InsertPosting writes a posting under a fresh id. A hash collision with
// the unique index is reported as ErrDuplicate.
func (d *MongoDB) InsertPosting(ctx context.Context, p models.ScoredPosting) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	doc := models.StoredPosting{ID: uuid.NewString(), ScoredPosting: p}
	if _, err := d.postings.InsertOne(ctx, doc); err != nil {
		return "", mapError("insert posting", err)
	}
	return doc.ID, nil
}

func (d *MongoDB) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	n, err := d.postings.CountDocuments(ctx, bson.M{"hash_key": hash}, options.Count().SetLimit(1))
	if err != nil {
		return false, mapError("check posting hash", err)
	}
	return n > 0, nil
}

// QueryPostings returns postings of one category with score >= minScore
// posted at or after since, best score first.
func (d *MongoDB) QueryPostings(ctx context.Context, category models.Category, minScore float64, since time.Time, limit int) ([]models.StoredPosting, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"category":  category,
		"score":     bson.M{"$gte": minScore},
		"posted_at": bson.M{"$gte": since},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "score", Value: -1}, {Key: "posted_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"vector": 0})

	cursor, err := d.postings.Find(ctx, filter, opts)
	if err != nil {
		return nil, mapError("query postings", err)
	}
	defer cursor.Close(ctx)

	var out []models.StoredPosting
	if err := cursor.All(ctx, &out); err != nil {
		return nil, mapError("decode postings", err)
	}
	return out, nil
}

// CategoryCounts counts postings per category scoring at least minScore
// posted at or after since.
func (d *MongoDB) CategoryCounts(ctx context.Context, minScore float64, since time.Time) (map[models.Category]int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$gte", Value: minScore}}},
			{Key: "posted_at", Value: bson.D{{Key: "$gte", Value: since}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$category"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := d.postings.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, mapError("count postings", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Category models.Category `bson:"_id"`
		Count    int             `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, mapError("decode posting counts", err)
	}

	out := make(map[models.Category]int, len(rows))
	for _, r := range rows {
		out[r.Category] = r.Count
	}
	return out, nil
}

func (d *MongoDB) InsertCrawlAttempt(ctx context.Context, a models.CrawlAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := d.crawlAttempts.InsertOne(ctx, a)
	return mapError("insert crawl attempt", err)
}

func (d *MongoDB) InsertRawPage(ctx context.Context, p models.RawPage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := d.rawPages.InsertOne(ctx, p)
	return mapError("insert raw page", err)
}

// CrawlStats groups crawl attempts since the given time by status.
func (d *MongoDB) CrawlStats(ctx context.Context, since time.Time) ([]StatusStat, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "crawled_at", Value: bson.D{{Key: "$gte", Value: since}}}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_latency", Value: bson.D{{Key: "$avg", Value: "$response_time"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := d.crawlAttempts.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, mapError("aggregate crawl stats", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status     models.AttemptStatus `bson:"_id"`
		Count      int                  `bson:"count"`
		AvgLatency float64              `bson:"avg_latency"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, mapError("decode crawl stats", err)
	}

	out := make([]StatusStat, 0, len(rows))
	for _, r := range rows {
		out = append(out, StatusStat{Status: r.Status, Count: r.Count, AvgLatency: time.Duration(r.AvgLatency)})
	}
	return out, nil
}

// LastCrawlAt returns the time of the most recent crawl attempt, or zero.
func (d *MongoDB) LastCrawlAt(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var last models.CrawlAttempt
	opts := options.FindOne().SetSort(bson.D{{Key: "crawled_at", Value: -1}})
	err := d.crawlAttempts.FindOne(ctx, bson.M{}, opts).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, mapError("find last crawl", err)
	}
	return last.Timestamp, nil
}

func (d *MongoDB) CreateUser(ctx context.Context, u models.UserProfile) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := d.users.InsertOne(ctx, u)
	return mapError("create user "+u.Email, err)
}

func (d *MongoDB) ActiveUsers(ctx context.Context) ([]models.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := d.users.Find(ctx, bson.M{"active": true}, options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, mapError("list active users", err)
	}
	defer cursor.Close(ctx)

	var users []models.UserProfile
	if err := cursor.All(ctx, &users); err != nil {
		return nil, mapError("decode users", err)
	}
	return users, nil
}

// MarkDigestSent records a successful digest delivery on the user.
func (d *MongoDB) MarkDigestSent(ctx context.Context, email string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	res, err := d.users.UpdateOne(ctx, bson.M{"email": email}, bson.M{"$set": bson.M{"last_email_sent": at}})
	if err != nil {
		return mapError("mark digest sent", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mark digest sent: user %s not found", email)
	}
	return nil
}

// Cleanup deletes raw pages and crawl attempts older than maxAge. The TTL
// indexes do the same continuously; this is the manual variant.
func (d *MongoDB) Cleanup(ctx context.Context, maxAge time.Duration) (CleanupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cutoff := bson.M{"crawled_at": bson.M{"$lt": time.Now().Add(-maxAge)}}
	var res CleanupResult

	pages, err := d.rawPages.DeleteMany(ctx, cutoff)
	if err != nil {
		return res, mapError("delete raw pages", err)
	}
	res.RawPages = pages.DeletedCount

	attempts, err := d.crawlAttempts.DeleteMany(ctx, cutoff)
	if err != nil {
		return res, mapError("delete crawl attempts", err)
	}
	res.CrawlAttempts = attempts.DeletedCount
	return res, nil
}
