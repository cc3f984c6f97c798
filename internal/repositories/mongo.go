package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/vidstream/backend/internal/models"
)

// UsersCollection is the collection holding user documents.
const UsersCollection = "users"

type userDocument struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	FullName     string    `bson:"fullname"`
	Password     string    `bson:"password"`
	Avatar       string    `bson:"avatar"`
	CoverImage   string    `bson:"coverImage"`
	RefreshToken *string   `bson:"refreshToken"`
	WatchHistory []string  `bson:"watchHistory"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func newUserDocument(user models.User) userDocument {
	history := user.WatchHistory
	if history == nil {
		history = []string{}
	}
	return userDocument{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		FullName:     user.FullName,
		Password:     user.Password,
		Avatar:       user.Avatar,
		CoverImage:   user.CoverImage,
		RefreshToken: user.RefreshToken,
		WatchHistory: history,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
}

func (d userDocument) model() models.User {
	return models.User{
		ID:           d.ID,
		Username:     d.Username,
		Email:        d.Email,
		FullName:     d.FullName,
		Password:     d.Password,
		Avatar:       d.Avatar,
		CoverImage:   d.CoverImage,
		RefreshToken: d.RefreshToken,
		WatchHistory: d.WatchHistory,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

// MongoUserRepository provides MongoDB-backed persistence for users.
type MongoUserRepository struct {
	users *mongo.Collection
	now   func() time.Time
}

// NewMongoUserRepository constructs a user repository on the given database.
func NewMongoUserRepository(database *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{
		users: database.Collection(UsersCollection),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the unique indexes backing username and email uniqueness.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

// Create persists a new user document.
func (r *MongoUserRepository) Create(ctx context.Context, user models.User) error {
	if _, err := r.users.InsertOne(ctx, newUserDocument(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByID fetches a user by identifier.
func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	user, err := r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return models.User{}, fmt.Errorf("find user by id: %w", err)
	}
	return user, nil
}

// FindByUsernameOrEmail fetches the oldest user whose username or email matches.
func (r *MongoUserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (models.User, error) {
	var or bson.A
	if username != "" {
		or = append(or, bson.D{{Key: "username", Value: username}})
	}
	if email != "" {
		or = append(or, bson.D{{Key: "email", Value: email}})
	}
	if len(or) == 0 {
		return models.User{}, ErrNotFound
	}

	user, err := r.findOne(ctx, bson.D{{Key: "$or", Value: or}})
	if err != nil {
		return models.User{}, fmt.Errorf("find user by username or email: %w", err)
	}
	return user, nil
}

// SetRefreshToken overwrites the stored refresh token.
func (r *MongoUserRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	return r.updateToken(ctx, bson.D{{Key: "_id", Value: id}}, token)
}

// RotateRefreshToken swaps current for next; the filter on the current value makes the
// write conditional.
func (r *MongoUserRepository) RotateRefreshToken(ctx context.Context, id, current, next string) error {
	filter := bson.D{{Key: "_id", Value: id}, {Key: "refreshToken", Value: current}}
	err := r.updateToken(ctx, filter, next)
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	count, err := r.users.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("check user exists: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrRefreshTokenMismatch
}

// ClearRefreshToken nulls the stored refresh token.
func (r *MongoUserRepository) ClearRefreshToken(ctx context.Context, id string) error {
	return r.updateToken(ctx, bson.D{{Key: "_id", Value: id}}, nil)
}

func (r *MongoUserRepository) updateToken(ctx context.Context, filter bson.D, token any) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "refreshToken", Value: token},
		{Key: "updatedAt", Value: r.now()},
	}}}

	result, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.D) (models.User, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})

	var doc userDocument
	if err := r.users.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	return doc.model(), nil
}

var _ UserRepository = (*MongoUserRepository)(nil)
