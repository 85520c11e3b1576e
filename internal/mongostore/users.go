package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atonlab/iam"
)

func (s *Store) CreateUser(ctx context.Context, user *iam.User) (*iam.User, error) {
	c := *user
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, err := s.users.InsertOne(ctx, &c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, conflict(dupReason(err, "user already exists"))
		}
		return nil, err
	}
	return &c, nil
}

func userQueryFilter(q iam.UserQuery) bson.M {
	switch {
	case q.ID != "":
		return bson.M{"_id": q.ID}
	case q.Username != "":
		return bson.M{"username": q.Username}
	case q.Email != "":
		return bson.M{"email": q.Email}
	case q.PhoneNumber != "":
		return bson.M{"phoneNumber": q.PhoneNumber}
	default:
		return nil
	}
}

func (s *Store) FindUser(ctx context.Context, q iam.UserQuery) (*iam.User, error) {
	filter := userQueryFilter(q)
	if filter == nil {
		return nil, notFound("user is not found")
	}

	var user iam.User
	if err := s.users.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("user is not found")
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd iam.UserUpdate) (*iam.User, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Username != nil {
		set["username"] = *upd.Username
	}
	if upd.Email != nil {
		set["email"] = *upd.Email
	}
	if upd.EmailVerified != nil {
		set["emailVerified"] = *upd.EmailVerified
	}
	if upd.PhoneNumber != nil {
		set["phoneNumber"] = *upd.PhoneNumber
	}
	if upd.PhoneNumberVerified != nil {
		set["phoneNumberVerified"] = *upd.PhoneNumberVerified
	}
	if upd.PwdHash != nil {
		set["pwdHash"] = *upd.PwdHash
	}
	if upd.Salt != nil {
		set["salt"] = *upd.Salt
	}
	if upd.Permissions != nil {
		set["permissions"] = *upd.Permissions
	}
	if upd.Roles != nil {
		set["roles"] = *upd.Roles
	}
	if upd.Blocked != nil {
		set["blocked"] = *upd.Blocked
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user iam.User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("user is not found")
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, conflict(dupReason(err, "user already exists"))
		}
		return nil, err
	}
	return &user, nil
}

func userListFilter(f iam.UserFilter) bson.M {
	filter := bson.M{}
	if f.ID != "" {
		filter["_id"] = f.ID
	}
	if f.Username != "" {
		filter["username"] = f.Username
	}
	if f.Email != "" {
		filter["email"] = f.Email
	}
	if f.PhoneNumber != "" {
		filter["phoneNumber"] = f.PhoneNumber
	}
	if f.Permission != "" {
		filter["permissions"] = f.Permission
	}
	if f.Role != "" {
		filter["roles"] = f.Role
	}
	return filter
}

func (s *Store) ListUsers(ctx context.Context, f iam.UserFilter) ([]*iam.User, error) {
	cursor, err := s.users.Find(ctx, userListFilter(f), listOptions(f.SortBy, f.OrderBy, f.Skip, f.Limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []*iam.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) CountUsers(ctx context.Context, f iam.UserFilter) (int64, error) {
	return s.users.CountDocuments(ctx, userListFilter(f))
}

func (s *Store) RemovePermission(ctx context.Context, name string) error {
	pull := bson.M{"$pull": bson.M{"permissions": name}}
	_, err := s.users.UpdateMany(ctx, bson.M{"permissions": name}, pull)
	return err
}

func (s *Store) RemoveRole(ctx context.Context, name string) error {
	pull := bson.M{"$pull": bson.M{"roles": name}}
	_, err := s.users.UpdateMany(ctx, bson.M{"roles": name}, pull)
	return err
}
