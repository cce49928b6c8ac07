package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/WaRyXx06/astro-relay/internal/store"
)

// MemberStore persists membership census rows and count datapoints.
type MemberStore struct {
	details *mongo.Collection
	counts  *mongo.Collection
}

// BulkUpsert writes a detector batch with upsert=true, ordered=false so a
// single malformed row does not abort the batch.
func (s *MemberStore) BulkUpsert(ctx context.Context, details []store.MemberDetail) (int64, error) {
	if len(details) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(details))
	for _, d := range details {
		// Danger fields are owned by RecomputeDanger; a census flush must
		// not reset them.
		set := bson.M{
			"username": d.Username,
			"lastSeen": d.LastSeen,
		}
		if len(d.Guilds) > 0 {
			set["guilds"] = d.Guilds
		}
		update := bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"firstSeen": d.LastSeen, "dangerLevel": 0},
		}
		if len(d.History) > 0 {
			update["$push"] = bson.M{"history": bson.M{
				"$each":  d.History,
				"$slice": -store.MemberHistoryLimit,
			}}
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"guildId": d.GuildID, "userId": d.UserID}).
			SetUpdate(update).
			SetUpsert(true))
	}
	res, err := s.details.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("bulk upsert members: %w", err)
	}
	return res.UpsertedCount + res.ModifiedCount, nil
}

// Touch is the opportunistic single-row upsert used on observed authors.
func (s *MemberStore) Touch(ctx context.Context, guildID, userID, username string, at time.Time) error {
	_, err := s.details.UpdateOne(ctx,
		bson.M{"guildId": guildID, "userId": userID},
		bson.M{
			"$set":         bson.M{"username": username, "lastSeen": at},
			"$setOnInsert": bson.M{"firstSeen": at, "dangerLevel": 0},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("touch member: %w", err)
	}
	return nil
}

func (s *MemberStore) Get(ctx context.Context, guildID, userID string) (*store.MemberDetail, error) {
	var m store.MemberDetail
	err := s.details.FindOne(ctx, bson.M{"guildId": guildID, "userId": userID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find member: %w", err)
	}
	return &m, nil
}

func (s *MemberStore) RecordCount(ctx context.Context, c *store.MemberCount) error {
	if _, err := s.counts.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("record member count: %w", err)
	}
	return nil
}

// RecomputeDanger scores users by concurrent presence: level is the count
// of other observed servers they also appear on, capped at 3. Level 2 and
// up flips isDangerous.
func (s *MemberStore) RecomputeDanger(ctx context.Context) (int64, error) {
	cur, err := s.details.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.M{
			"_id":    "$userId",
			"guilds": bson.M{"$addToSet": "$guildId"},
		}}},
		bson.D{{Key: "$project", Value: bson.M{"n": bson.M{"$size": "$guilds"}}}},
		bson.D{{Key: "$match", Value: bson.M{"n": bson.M{"$gt": 1}}}},
	})
	if err != nil {
		return 0, fmt.Errorf("aggregate concurrent presences: %w", err)
	}
	var rows []struct {
		UserID string `bson:"_id"`
		N      int    `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("decode concurrent presences: %w", err)
	}

	byLevel := make(map[int][]string)
	for _, r := range rows {
		level := r.N - 1
		if level > 3 {
			level = 3
		}
		byLevel[level] = append(byLevel[level], r.UserID)
	}
	var total int64
	for level, ids := range byLevel {
		res, err := s.details.UpdateMany(ctx,
			bson.M{"userId": bson.M{"$in": ids}},
			bson.M{"$set": bson.M{"dangerLevel": level, "isDangerous": level >= 2}},
		)
		if err != nil {
			return total, fmt.Errorf("rescore danger level %d: %w", level, err)
		}
		total += res.ModifiedCount
	}
	return total, nil
}

func (s *MemberStore) PurgeAll(ctx context.Context) (int64, error) {
	res, err := s.details.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("purge member details: %w", err)
	}
	res2, err := s.counts.DeleteMany(ctx, bson.M{})
	if err != nil {
		return res.DeletedCount, fmt.Errorf("purge member counts: %w", err)
	}
	return res.DeletedCount + res2.DeletedCount, nil
}
