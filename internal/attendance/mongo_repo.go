package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by MongoRepository.
const (
	colUsers          = "users"
	colSchedules      = "schedules"
	colEstablishments = "establishments"
	colEvents         = "marcajes"
	colAdmins         = "admins"
	colDevices        = "devices"
	colRefreshTokens  = "refresh_tokens"
)

// MongoRepository persists attendance data in MongoDB.
type MongoRepository struct {
	db *mongo.Database
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{db: db}
}

// EnsureIndexes creates the indexes the queries rely on. It is idempotent.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "document", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "schedule_id", Value: 1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "type", Value: 1}, {Key: "occurred_at", Value: -1}}},
			{Keys: bson.D{{Key: "date", Value: 1}}},
		},
		colAdmins: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colRefreshTokens: {
			{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, models := range specs {
		if _, err := r.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

func mongoErr(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrConflict
	}
	return err
}

func (r *MongoRepository) findOne(ctx context.Context, col string, filter any, out any) error {
	return mongoErr(r.db.Collection(col).FindOne(ctx, filter).Decode(out))
}

func (r *MongoRepository) deleteByID(ctx context.Context, col, id string) error {
	res, err := r.db.Collection(col).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) replaceByID(ctx context.Context, col, id string, doc any) error {
	res, err := r.db.Collection(col).ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return mongoErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := r.findOne(ctx, colUsers, bson.M{"_id": id}, &u)
	return u, err
}

func (r *MongoRepository) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	filter := bson.M{}
	if f.EstablishmentID != "" {
		filter["establishment_id"] = f.EstablishmentID
	}
	if f.ScheduleID != "" {
		filter["schedule_id"] = f.ScheduleID
	}
	if f.ActiveOnly {
		filter["active"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_name", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.db.Collection(colUsers).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	users := []User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *MongoRepository) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if _, err := r.db.Collection(colUsers).InsertOne(ctx, u); err != nil {
		return User{}, mongoErr(err)
	}
	return u, nil
}

func (r *MongoRepository) UpdateUser(ctx context.Context, u User) (User, error) {
	existing, err := r.GetUser(ctx, u.ID)
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	if err := r.replaceByID(ctx, colUsers, u.ID, u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (r *MongoRepository) DeleteUser(ctx context.Context, id string) error {
	return r.deleteByID(ctx, colUsers, id)
}

func (r *MongoRepository) SetFaceTrained(ctx context.Context, id string, trained bool, photoURL string) error {
	set := bson.M{"face_trained": trained, "updated_at": time.Now().UTC()}
	if photoURL != "" {
		set["photo_url"] = photoURL
	}
	res, err := r.db.Collection(colUsers).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	var s Schedule
	err := r.findOne(ctx, colSchedules, bson.M{"_id": id}, &s)
	return s, err
}

func (r *MongoRepository) ListSchedules(ctx context.Context) ([]Schedule, error) {
	cur, err := r.db.Collection(colSchedules).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := []Schedule{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) CreateSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	if _, err := r.db.Collection(colSchedules).InsertOne(ctx, s); err != nil {
		return Schedule{}, mongoErr(err)
	}
	return s, nil
}

func (r *MongoRepository) UpdateSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	existing, err := r.GetSchedule(ctx, s.ID)
	if err != nil {
		return Schedule{}, err
	}
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	if err := r.replaceByID(ctx, colSchedules, s.ID, s); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func (r *MongoRepository) DeleteSchedule(ctx context.Context, id string) error {
	return r.deleteByID(ctx, colSchedules, id)
}

func (r *MongoRepository) GetEstablishment(ctx context.Context, id string) (Establishment, error) {
	var e Establishment
	err := r.findOne(ctx, colEstablishments, bson.M{"_id": id}, &e)
	return e, err
}

func (r *MongoRepository) ListEstablishments(ctx context.Context) ([]Establishment, error) {
	cur, err := r.db.Collection(colEstablishments).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := []Establishment{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) CreateEstablishment(ctx context.Context, e Establishment) (Establishment, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if _, err := r.db.Collection(colEstablishments).InsertOne(ctx, e); err != nil {
		return Establishment{}, mongoErr(err)
	}
	return e, nil
}

func (r *MongoRepository) UpdateEstablishment(ctx context.Context, e Establishment) (Establishment, error) {
	existing, err := r.GetEstablishment(ctx, e.ID)
	if err != nil {
		return Establishment{}, err
	}
	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	if err := r.replaceByID(ctx, colEstablishments, e.ID, e); err != nil {
		return Establishment{}, err
	}
	return e, nil
}

func (r *MongoRepository) DeleteEstablishment(ctx context.Context, id string) error {
	return r.deleteByID(ctx, colEstablishments, id)
}

func (r *MongoRepository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	evt.CreatedAt = time.Now().UTC()
	if _, err := r.db.Collection(colEvents).InsertOne(ctx, evt); err != nil {
		return Event{}, mongoErr(err)
	}
	return evt, nil
}

func (r *MongoRepository) GetEvent(ctx context.Context, id string) (Event, error) {
	var evt Event
	err := r.findOne(ctx, colEvents, bson.M{"_id": id}, &evt)
	return evt, err
}

func (r *MongoRepository) RecentEvent(ctx context.Context, userID string, typ EventType, since time.Time) (*Event, error) {
	var evt Event
	opts := options.FindOne().SetSort(bson.D{{Key: "occurred_at", Value: -1}})
	err := r.db.Collection(colEvents).FindOne(ctx, bson.M{
		"user_id":     userID,
		"type":        typ,
		"occurred_at": bson.M{"$gte": since},
	}, opts).Decode(&evt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *MongoRepository) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	filter := bson.M{}
	for key, val := range map[string]string{
		"user_id":          f.UserID,
		"establishment_id": f.EstablishmentID,
		"device_id":        f.DeviceID,
		"type":             string(f.Type),
		"status":           string(f.Status),
	} {
		if val != "" {
			filter[key] = val
		}
	}
	if f.From != "" || f.To != "" {
		rng := bson.M{}
		if f.From != "" {
			rng["$gte"] = f.From
		}
		if f.To != "" {
			rng["$lte"] = f.To
		}
		filter["date"] = rng
	}
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	cur, err := r.db.Collection(colEvents).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []Event{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) MarkNotified(ctx context.Context, id string) error {
	res, err := r.db.Collection(colEvents).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"notification_sent": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) GetAdminByEmail(ctx context.Context, email string) (Admin, error) {
	var a Admin
	err := r.findOne(ctx, colAdmins, bson.M{"email": strings.ToLower(email)}, &a)
	return a, err
}

func (r *MongoRepository) UpsertAdmin(ctx context.Context, a Admin) error {
	email := strings.ToLower(a.Email)
	_, err := r.db.Collection(colAdmins).UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{
			"$set":         bson.M{"name": a.Name, "password_hash": a.PasswordHash},
			"$setOnInsert": bson.M{"_id": uuid.NewString(), "created_at": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *MongoRepository) UpsertDevice(ctx context.Context, deviceID string) error {
	_, err := r.db.Collection(colDevices).UpdateOne(ctx,
		bson.M{"_id": deviceID},
		bson.M{"$setOnInsert": bson.M{"created_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *MongoRepository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.db.Collection(colRefreshTokens).InsertOne(ctx, bson.M{
		"subject":    subject,
		"token":      token,
		"expires_at": expiresAt,
		"revoked":    false,
	})
	return mongoErr(err)
}

func (r *MongoRepository) RefreshTokenActive(ctx context.Context, token string) (bool, error) {
	n, err := r.db.Collection(colRefreshTokens).CountDocuments(ctx, bson.M{
		"token":      token,
		"revoked":    false,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	})
	return n > 0, err
}

func (r *MongoRepository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.Collection(colRefreshTokens).UpdateOne(ctx, bson.M{"token": token}, bson.M{"$set": bson.M{"revoked": true}})
	return err
}
