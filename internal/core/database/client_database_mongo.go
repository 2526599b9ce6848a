package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/models"
)

const (
	usersCollection    = "users"
	sessionsCollection = "chatsessions"
	filesCollection    = "files"
)

type MongoClient struct {
	client   *mongo.Client
	users    *mongo.Collection
	sessions *mongo.Collection
	files    *mongo.Collection
}

func NewMongoClient(ctx context.Context, uri, database string) (*MongoClient, error) {
	if uri == "" {
		return nil, errors.New("MONGODB_URI is empty")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}

	dbh := client.Database(database)
	c := &MongoClient{
		client:   client,
		users:    dbh.Collection(usersCollection),
		sessions: dbh.Collection(sessionsCollection),
		files:    dbh.Collection(filesCollection),
	}

	if err := c.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Info().Str("database", database).Msg("MongoDB connected")
	return c, nil
}

func (c *MongoClient) ensureIndexes(ctx context.Context) error {
	idxCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := c.users.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "users index")
	}
	if _, err := c.sessions.Indexes().CreateMany(idxCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "conversationId", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return errors.Wrap(err, "sessions index")
	}
	if _, err := c.files.Indexes().CreateMany(idxCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}}},
		{Keys: bson.D{{Key: "uploadedAt", Value: 1}}},
	}); err != nil {
		return errors.Wrap(err, "files index")
	}
	return nil
}

func (c *MongoClient) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Users

func (c *MongoClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	user.Email = normalizeEmail(user.Email)
	if _, err := c.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return core.ErrEmailTaken
		}
		return errors.Wrap(err, "insert user")
	}
	return nil
}

func (c *MongoClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return c.findUser(ctx, bson.M{"email": normalizeEmail(email)})
}

func (c *MongoClient) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return c.findUser(ctx, bson.M{"_id": id})
}

func (c *MongoClient) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := c.users.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}
	return &u, nil
}

func (c *MongoClient) UpdateUser(ctx context.Context, user *models.User) error {
	user.Email = normalizeEmail(user.Email)
	user.UpdatedAt = time.Now().UTC()
	res, err := c.users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": bson.M{
		"firstName":       user.FirstName,
		"lastName":        user.LastName,
		"mobileNumber":    user.MobileNumber,
		"email":           user.Email,
		"favoriteFeature": user.FavoriteFeature,
		"updatedAt":       user.UpdatedAt,
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return core.ErrEmailTaken
		}
		return errors.Wrap(err, "update user")
	}
	if res.MatchedCount == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (c *MongoClient) AdjustTotalChats(ctx context.Context, userID string, delta int) error {
	// pipeline update so the floor at zero is applied atomically
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "totalChats", Value: bson.D{{Key: "$max", Value: bson.A{
			0,
			bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$totalChats", 0}}}, delta}}},
		}}}}}}},
	}
	res, err := c.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return errors.Wrap(err, "adjust totalChats")
	}
	if res.MatchedCount == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Sessions

func (c *MongoClient) CreateSession(ctx context.Context, session *models.ChatSession) error {
	if session == nil {
		return errors.New("nil session")
	}
	if session.Messages == nil {
		session.Messages = []models.Message{}
	}
	_, err := c.sessions.InsertOne(ctx, session)
	return errors.Wrap(err, "insert session")
}

func (c *MongoClient) GetSession(ctx context.Context, userID, sessionID string) (*models.ChatSession, error) {
	var s models.ChatSession
	err := c.sessions.FindOne(ctx, bson.M{"_id": sessionID, "userId": userID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find session")
	}
	return &s, nil
}

func (c *MongoClient) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := c.sessions.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find sessions")
	}
	defer cursor.Close(ctx)

	out := []models.ChatSession{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode sessions")
	}
	return out, nil
}

func (c *MongoClient) CountSessions(ctx context.Context, userID string) (int, error) {
	n, err := c.sessions.CountDocuments(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, errors.Wrap(err, "count sessions")
	}
	return int(n), nil
}

func (c *MongoClient) UpdateSessionTitle(ctx context.Context, userID, sessionID, title string) (*models.ChatSession, error) {
	return c.updateSession(ctx, userID, sessionID, bson.M{"title": title})
}

func (c *MongoClient) SaveMessages(ctx context.Context, userID, sessionID string, messages []models.Message) (*models.ChatSession, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	return c.updateSession(ctx, userID, sessionID, bson.M{"messages": messages})
}

func (c *MongoClient) updateSession(ctx context.Context, userID, sessionID string, set bson.M) (*models.ChatSession, error) {
	set["updatedAt"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var s models.ChatSession
	err := c.sessions.FindOneAndUpdate(ctx,
		bson.M{"_id": sessionID, "userId": userID},
		bson.M{"$set": set},
		opts,
	).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "update session")
	}
	return &s, nil
}

func (c *MongoClient) DeleteSession(ctx context.Context, userID, sessionID string) error {
	res, err := c.sessions.DeleteOne(ctx, bson.M{"_id": sessionID, "userId": userID})
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	if res.DeletedCount == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Files

func (c *MongoClient) CreateFile(ctx context.Context, file *models.StoredFile) error {
	if file == nil {
		return errors.New("nil file")
	}
	_, err := c.files.InsertOne(ctx, file)
	return errors.Wrap(err, "insert file")
}

func (c *MongoClient) GetFile(ctx context.Context, userID, fileID string) (*models.StoredFile, error) {
	var f models.StoredFile
	err := c.files.FindOne(ctx, bson.M{"_id": fileID, "userId": userID}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find file")
	}
	return &f, nil
}

func (c *MongoClient) DeleteFile(ctx context.Context, userID, fileID string) error {
	res, err := c.files.DeleteOne(ctx, bson.M{"_id": fileID, "userId": userID})
	if err != nil {
		return errors.Wrap(err, "delete file")
	}
	if res.DeletedCount == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (c *MongoClient) ListFilesBefore(ctx context.Context, cutoff time.Time) ([]models.StoredFile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: 1}})
	cursor, err := c.files.Find(ctx, bson.M{"uploadedAt": bson.M{"$lt": cutoff}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find old files")
	}
	defer cursor.Close(ctx)

	var out []models.StoredFile
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode files")
	}
	return out, nil
}

var _ core.DbClient = (*MongoClient)(nil)
