// Package mongostore persists users, permissions, and roles in MongoDB.
// Uniqueness is delegated to unique (sparse, where the field is optional)
// indexes; duplicate-key errors surface as iam.ErrConflict.
package mongostore

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atonlab/iam"
)

// Store implements iam.UserStore, iam.PermissionStore, and iam.RoleStore
// over three collections of a single database.
type Store struct {
	users *mongo.Collection
	perms *mongo.Collection
	roles *mongo.Collection
}

// New wraps db. Call EnsureIndexes once at startup before serving traffic.
func New(db *mongo.Database) *Store {
	return &Store{
		users: db.Collection("users"),
		perms: db.Collection("permissions"),
		roles: db.Collection("roles"),
	}
}

// Stores bundles the store under every interface it implements. The role
// view scopes the permission cascade to the roles collection, keeping it
// apart from the user store's cascade of the same name.
func (s *Store) Stores() iam.Stores {
	return iam.Stores{Users: s, Permissions: s, Roles: roleStore{s}}
}

// roleStore is Store seen as an iam.RoleStore: RemovePermission pulls the
// named permission from the roles collection only.
type roleStore struct {
	*Store
}

func (r roleStore) RemovePermission(ctx context.Context, name string) error {
	filter := bson.M{"permissions": name}
	_, err := r.roles.UpdateMany(ctx, filter, bson.M{"$pull": filter})
	return err
}

// EnsureIndexes creates the unique indexes the conflict semantics depend
// on. Identity fields are sparse so users without, say, an email do not
// collide with each other.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	sparse := func(field string) mongo.IndexModel {
		return mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		}
	}
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		sparse("username"),
		sparse("email"),
		sparse("phoneNumber"),
	})
	if err != nil {
		return err
	}

	unique := []mongo.IndexModel{{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}}
	if _, err := s.perms.Indexes().CreateMany(ctx, unique); err != nil {
		return err
	}
	_, err = s.roles.Indexes().CreateMany(ctx, unique)
	return err
}

func conflict(reason string) error {
	return &iam.Error{Kind: iam.KindConflict, Reason: reason}
}

func notFound(reason string) error {
	return &iam.Error{Kind: iam.KindNotFound, Reason: reason}
}

// dupReason names the colliding field from the duplicate-key error so
// server logs can tell a username clash from an email clash.
func dupReason(err error, fallback string) string {
	msg := err.Error()
	for _, field := range []string{"username", "email", "phoneNumber", "name"} {
		if strings.Contains(msg, field+"_1") {
			return field + " already exists"
		}
	}
	return fallback
}

func listOptions(sortBy, orderBy string, skip, limit int64) *options.FindOptions {
	order := 1
	if orderBy == "desc" {
		order = -1
	}
	if sortBy == "" {
		sortBy = "_id"
	}
	opts := options.Find().SetSort(bson.D{{Key: sortBy, Value: order}})
	if skip > 0 {
		opts.SetSkip(skip)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return opts
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

var (
	_ iam.UserStore       = (*Store)(nil)
	_ iam.PermissionStore = (*Store)(nil)
	_ iam.RoleStore       = roleStore{}
)
