// Package mongostore keeps guild configuration as one document per guild,
// mutated with MongoDB update operators.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/store"
)

const (
	collGuilds      = "guilds"
	collHealthStats = "api_health_stats"
	collStatus      = "service_status"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.ConfigStore = (*Store)(nil)

func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := &Store{client: client, db: client.Database(database)}

	_, err = s.guilds().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "guild_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo index: %w", err)
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) guilds() *mongo.Collection { return s.db.Collection(collGuilds) }

func (s *Store) GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	if err := s.ensure(ctx, guildID); err != nil {
		return nil, err
	}
	var cfg models.GuildConfig
	if err := s.guilds().FindOne(ctx, bson.M{"guild_id": guildID}).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ensure inserts the default document unless one exists already.
func (s *Store) ensure(ctx context.Context, guildID string) error {
	n, err := s.guilds().CountDocuments(ctx, bson.M{"guild_id": guildID}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.guilds().InsertOne(ctx, models.DefaultGuildConfig(guildID))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return nil
}

// UpdateGuildConfig validates ops against the current document, then sends
// them as update operators. Ops touching the same root field are split into
// consecutive updates since MongoDB rejects conflicting paths in one update.
func (s *Store) UpdateGuildConfig(ctx context.Context, guildID string, ops ...store.Op) (*models.GuildConfig, error) {
	current, err := s.GetGuildConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if _, err := store.ApplyOps(current, ops...); err != nil {
		return nil, err
	}

	b := newBatch(guildID)
	for _, op := range ops {
		if b.conflicts(op) {
			if err := s.flush(ctx, b); err != nil {
				return nil, err
			}
			b = newBatch(guildID)
		}
		b.add(op)
	}
	if err := s.flush(ctx, b); err != nil {
		return nil, err
	}
	return s.GetGuildConfig(ctx, guildID)
}

func (s *Store) flush(ctx context.Context, b *batch) error {
	if b.empty() {
		return nil
	}
	err := s.guilds().FindOneAndUpdate(ctx, b.filter, b.update()).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		// the document exists, so only a case-number guard can miss
		return models.ErrDuplicateCase
	}
	return err
}

func (s *Store) AllGuildConfigs(ctx context.Context) ([]*models.GuildConfig, error) {
	cur, err := s.guilds().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "guild_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.GuildConfig
	for cur.Next(ctx) {
		var cfg models.GuildConfig
		if err := cur.Decode(&cfg); err != nil {
			return nil, err
		}
		out = append(out, &cfg)
	}
	return out, cur.Err()
}

func (s *Store) UpdateAPIHealthBulk(serviceName string, totalToAdd, successfulToAdd uint64) error {
	if totalToAdd == 0 && successfulToAdd == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.db.Collection(collHealthStats).UpdateOne(ctx,
		bson.M{"_id": serviceName},
		bson.M{
			"$inc": bson.M{"total_requests": int64(totalToAdd), "successful_requests": int64(successfulToAdd)},
			"$set": bson.M{"updated_at": time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) UpsertServiceStatus(status *models.ServiceStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.db.Collection(collStatus).ReplaceOne(ctx,
		bson.M{"_id": status.ServiceName},
		status,
		options.Replace().SetUpsert(true),
	)
	return err
}

type batch struct {
	filter  bson.M
	guards  bson.A
	set     bson.M
	push    bson.M
	pull    bson.M
	addSet  bson.M
	pullSet bson.M
	touched map[string]bool
}

func newBatch(guildID string) *batch {
	return &batch{
		filter:  bson.M{"guild_id": guildID},
		set:     bson.M{},
		push:    bson.M{},
		pull:    bson.M{},
		addSet:  bson.M{},
		pullSet: bson.M{},
		touched: map[string]bool{},
	}
}

func opRoot(op store.Op) string {
	if op.Kind == store.OpPush || op.Kind == store.OpPull {
		return string(op.List)
	}
	root, _ := store.SplitField(op.Field)
	return root
}

func (b *batch) conflicts(op store.Op) bool {
	return b.touched[opRoot(op)]
}

func (b *batch) empty() bool {
	return len(b.touched) == 0
}

func (b *batch) add(op store.Op) {
	b.touched[opRoot(op)] = true
	switch op.Kind {
	case store.OpSet:
		b.set[op.Field] = op.Value
	case store.OpPush:
		b.push[string(op.List)] = op.Record
		b.guards = append(b.guards, bson.M{
			string(op.List) + ".case_number": bson.M{"$ne": op.Record.CaseNumber},
		})
		b.filter["$and"] = b.guards
	case store.OpPull:
		if op.Match.IsZero() {
			return
		}
		b.pull[string(op.List)] = matchDoc(op.Match)
	case store.OpAddToSet:
		b.addSet[op.Field] = op.Value
	case store.OpRemoveFromSet:
		b.pullSet[op.Field] = op.Value
	}
}

func (b *batch) update() bson.M {
	u := bson.M{}
	for name, part := range map[string]bson.M{
		"$set":      b.set,
		"$push":     b.push,
		"$pull":     b.pull,
		"$addToSet": b.addSet,
	} {
		if len(part) > 0 {
			u[name] = part
		}
	}
	// $pull with a scalar removes that value from a string array
	if len(b.pullSet) > 0 {
		pull, _ := u["$pull"].(bson.M)
		if pull == nil {
			pull = bson.M{}
		}
		for k, v := range b.pullSet {
			pull[k] = v
		}
		u["$pull"] = pull
	}
	if len(u) == 0 {
		// keeps FindOneAndUpdate valid when every op was a no-op pull
		u["$set"] = bson.M{"guild_id": b.filter["guild_id"]}
	}
	return u
}

func matchDoc(m store.CaseMatch) bson.M {
	doc := bson.M{}
	if m.CaseNumber != 0 {
		doc["case_number"] = m.CaseNumber
	}
	if m.SubjectID != "" {
		doc["member_id"] = m.SubjectID
	}
	if m.ExpiresAt != 0 {
		doc["time"] = m.ExpiresAt
	}
	return doc
}
