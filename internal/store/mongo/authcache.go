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

// AuthCacheStore persists gateway handshakes in the ProxAuthCache
// collection so restarts resume the user session instead of re-identifying.
type AuthCacheStore struct {
	col *mongo.Collection
}

func (s *AuthCacheStore) GetSession(ctx context.Context, guildID string) (*store.AuthSession, error) {
	var a store.AuthSession
	err := s.col.FindOne(ctx, bson.M{"guildId": guildID}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find auth session: %w", err)
	}
	return &a, nil
}

func (s *AuthCacheStore) PutSession(ctx context.Context, a *store.AuthSession) error {
	at := a.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.col.UpdateOne(ctx,
		bson.M{"guildId": a.GuildID},
		bson.M{"$set": bson.M{
			"sessionId": a.SessionID,
			"resumeUrl": a.ResumeURL,
			"sequence":  a.Sequence,
			"updatedAt": at,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert auth session: %w", err)
	}
	return nil
}

func (s *AuthCacheStore) DeleteSession(ctx context.Context, guildID string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"guildId": guildID})
	if err != nil {
		return fmt.Errorf("delete auth session: %w", err)
	}
	return nil
}
