// Package dedup derives content hashes and stores postings at most once per hash.
package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"opportunist/internal/logger"
	"opportunist/internal/models"
)

// Hash is the md5 hex digest of the case-folded, whitespace-collapsed
// title followed by the trimmed link.
func Hash(title, link string) string {
	normTitle := strings.ToLower(strings.Join(strings.Fields(title), " "))
	sum := md5.Sum([]byte(normTitle + strings.TrimSpace(link)))
	return hex.EncodeToString(sum[:])
}

// Stamp fills in the content hash of every scored posting.
func Stamp(postings []models.ScoredPosting) {
	for i := range postings {
		postings[i].Hash = Hash(postings[i].Title, postings[i].Link)
	}
}

// Repository is the storage side the deduplicator needs.
type Repository interface {
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	InsertPosting(ctx context.Context, p models.ScoredPosting) (string, error)
}

type Stats struct {
	Stored     int
	Duplicates int
	Failed     int
}

type Deduplicator struct {
	repo Repository
	log  logger.Logger
}

func New(repo Repository, log logger.Logger) *Deduplicator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Deduplicator{repo: repo, log: log.With(logger.String("component", "dedup"))}
}

func (d *Deduplicator) IsDuplicate(ctx context.Context, hash string) (bool, error) {
	return d.repo.ExistsByHash(ctx, hash)
}

// Store inserts every posting whose hash is not yet persisted. Duplicates,
// whether found up front or reported by the unique index, are skipped.
// Only ErrStorageUnavailable aborts; other per-posting failures are counted.
func (d *Deduplicator) Store(ctx context.Context, postings []models.ScoredPosting) (Stats, error) {
	var stats Stats
	for _, p := range postings {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if p.Hash == "" {
			p.Hash = Hash(p.Title, p.Link)
		}

		exists, err := d.repo.ExistsByHash(ctx, p.Hash)
		if err != nil {
			if errors.Is(err, models.ErrStorageUnavailable) {
				return stats, err
			}
			d.log.Warn("Duplicate check failed", logger.String("hash", p.Hash), logger.Error(err))
			stats.Failed++
			continue
		}
		if exists {
			stats.Duplicates++
			continue
		}

		if _, err := d.repo.InsertPosting(ctx, p); err != nil {
			switch {
			case errors.Is(err, models.ErrDuplicate):
				stats.Duplicates++
			case errors.Is(err, models.ErrStorageUnavailable):
				return stats, fmt.Errorf("insert posting %s: %w", p.Hash, err)
			default:
				d.log.Warn("Failed to store posting", logger.String("title", p.Title), logger.Error(err))
				stats.Failed++
			}
			continue
		}
		stats.Stored++
	}

	d.log.Info("Stored postings",
		logger.Int("stored", stats.Stored),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed),
	)
	return stats, nil
}
