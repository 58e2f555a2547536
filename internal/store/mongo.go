package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/models"
	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

const (
	msgCollection  = "messages"
	convCollection = "conversations"
)

// Mongo implements Store on MongoDB. The change feed is a change stream per
// conversation; message idempotency is a unique (conversation_id, local_id)
// index plus upserts; direct-conversation dedup is a partial unique index on
// direct_key.
type Mongo struct {
	client  *mongo.Client
	msgCol  *mongo.Collection
	convCol *mongo.Collection
	logger  *zap.SugaredLogger
}

func NewMongo(ctx context.Context, uri, database string, logger *zap.SugaredLogger) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	s := &Mongo{
		client:  client,
		msgCol:  db.Collection(msgCollection),
		convCol: db.Collection(convCollection),
		logger:  logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := s.msgCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "local_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	_, err = s.convCol.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "direct_key", Value: 1}},
		Options: options.Index().SetUnique(true).
			SetPartialFilterExpression(bson.M{"direct_key": bson.M{"$exists": true}}),
	})
	if err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}
	return nil
}

func (s *Mongo) PutMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	set := bson.M{"content": m.Content}
	if m.EditedAt != nil {
		set["edited_at"] = *m.EditedAt
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"_id":             primitive.NewObjectID().Hex(),
			"local_id":        m.LocalID,
			"conversation_id": m.ConversationID,
			"sender_id":       m.SenderID,
			"sender_name":     m.SenderName,
			"kind":            m.Kind,
			"created_at":      time.Now().UTC(),
		},
	}
	filter := bson.M{"conversation_id": m.ConversationID, "local_id": m.LocalID}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored models.Message
	if err := s.msgCol.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		return nil, classify("put message", err)
	}
	return &stored, nil
}

func (s *Mongo) QueryMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]*models.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := s.msgCol.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, classify("query messages", err)
	}
	defer cur.Close(ctx)

	var out []*models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, classify("query messages", err)
	}
	return out, nil
}

func (s *Mongo) SubscribeMessages(ctx context.Context, conversationID string) (<-chan Event, func(), error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":                bson.M{"$in": []string{"insert", "update", "replace"}},
			"fullDocument.conversation_id": conversationID,
		}}},
	}
	streamCtx, cancelStream := context.WithCancel(ctx)
	cs, err := s.msgCol.Watch(streamCtx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancelStream()
		return nil, nil, classify("watch messages", err)
	}

	ch := make(chan Event, 256)
	go func() {
		defer close(ch)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = cs.Close(closeCtx)
		}()
		for cs.Next(streamCtx) {
			var ev struct {
				OperationType string         `bson:"operationType"`
				FullDocument  models.Message `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				s.logger.Warnw("change stream decode", "err", err)
				continue
			}
			typ := EventUpdated
			if ev.OperationType == "insert" {
				typ = EventInserted
			}
			select {
			case ch <- Event{Type: typ, Message: &ev.FullDocument}:
			case <-streamCtx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			s.logger.Warnw("change stream dropped", "conversation", conversationID, "err", err)
		}
	}()
	return ch, cancelStream, nil
}

func (s *Mongo) CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	stored := c.Clone()
	stored.ID = primitive.NewObjectID().Hex()
	stored.CreatedAt = time.Now().UTC()
	if _, err := s.convCol.InsertOne(ctx, stored); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.ErrDuplicateKey
		}
		return nil, classify("create conversation", err)
	}
	return stored, nil
}

func (s *Mongo) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.convCol.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, classify("get conversation", err)
	}
	return &c, nil
}

func (s *Mongo) FindDirect(ctx context.Context, directKey string) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.convCol.FindOne(ctx, bson.M{"direct_key": directKey}).Decode(&c); err != nil {
		return nil, classify("find direct conversation", err)
	}
	return &c, nil
}

func (s *Mongo) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	cur, err := s.convCol.Find(ctx, bson.M{"members": userID})
	if err != nil {
		return nil, classify("list conversations", err)
	}
	defer cur.Close(ctx)
	var out []*models.Conversation
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		out = append(out, &c)
	}
	if err := cur.Err(); err != nil {
		return nil, classify("list conversations", err)
	}
	return out, nil
}

func (s *Mongo) UpdateSummary(ctx context.Context, conversationID string, sum *models.MessageSummary) error {
	// Condition evaluated server-side so concurrent sessions cannot regress
	// the summary to an older message.
	filter := bson.M{
		"_id": conversationID,
		"$or": bson.A{
			bson.M{"last_message": bson.M{"$exists": false}},
			bson.M{"last_message.created_at": bson.M{"$lte": sum.CreatedAt}},
		},
	}
	_, err := s.convCol.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"last_message": sum}})
	if err != nil {
		return classify("update summary", err)
	}
	return nil
}

func (s *Mongo) AddMember(ctx context.Context, conversationID, userID string) error {
	res, err := s.convCol.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$addToSet": bson.M{"members": userID}})
	if err != nil {
		return classify("add member", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// classify maps driver errors onto the service taxonomy.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return apperrors.ErrNotFound
	case mongo.IsTimeout(err), mongo.IsNetworkError(err),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %v", op, apperrors.ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
