package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atonlab/iam"
)

func nameListFilter(f iam.ListFilter) bson.M {
	filter := bson.M{}
	if f.Name != "" {
		filter["name"] = primitive.Regex{Pattern: "^" + regexQuote(f.Name)}
	}
	return filter
}

// regexQuote escapes regex metacharacters so a name prefix is matched
// literally.
func regexQuote(s string) string {
	const meta = `\.+*?()|[]{}^$`
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		for j := 0; j < len(meta); j++ {
			if s[i] == meta[j] {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}

/*
====================================
PERMISSIONS
====================================
*/

func (s *Store) CreatePermission(ctx context.Context, p *iam.Permission) (*iam.Permission, error) {
	c := *p
	if _, err := s.perms.InsertOne(ctx, &c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, conflict("permission already exists")
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetPermission(ctx context.Context, name string) (*iam.Permission, error) {
	var p iam.Permission
	if err := s.perms.FindOne(ctx, bson.M{"name": name}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("permission is not found")
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPermissions(ctx context.Context, f iam.ListFilter) ([]*iam.Permission, error) {
	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = "name"
	}
	cursor, err := s.perms.Find(ctx, nameListFilter(f), listOptions(sortBy, f.OrderBy, f.Skip, f.Limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	perms := []*iam.Permission{}
	if err := cursor.All(ctx, &perms); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) CountPermissions(ctx context.Context, f iam.ListFilter) (int64, error) {
	return s.perms.CountDocuments(ctx, nameListFilter(f))
}

func (s *Store) UpdatePermission(ctx context.Context, name string, upd iam.PermissionUpdate) (*iam.Permission, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Alias != nil {
		set["alias"] = *upd.Alias
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var p iam.Permission
	err := s.perms.FindOneAndUpdate(ctx, bson.M{"name": name}, bson.M{"$set": set}, opts).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("permission is not found")
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeletePermission(ctx context.Context, name string) error {
	res, err := s.perms.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return notFound("permission is not found")
	}
	return nil
}

func (s *Store) CountByNames(ctx context.Context, names []string) (int64, error) {
	names = dedupe(names)
	if len(names) == 0 {
		return 0, nil
	}
	return s.perms.CountDocuments(ctx, bson.M{"name": bson.M{"$in": names}})
}

/*
====================================
ROLES
====================================
*/

func (s *Store) CreateRole(ctx context.Context, r *iam.Role) (*iam.Role, error) {
	c := *r
	if _, err := s.roles.InsertOne(ctx, &c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, conflict("role already exists")
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetRole(ctx context.Context, name string) (*iam.Role, error) {
	var r iam.Role
	if err := s.roles.FindOne(ctx, bson.M{"name": name}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("role is not found")
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetRolesByNames(ctx context.Context, names []string) ([]*iam.Role, error) {
	names = dedupe(names)
	if len(names) == 0 {
		return nil, nil
	}
	cursor, err := s.roles.Find(ctx, bson.M{"name": bson.M{"$in": names}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	roles := []*iam.Role{}
	if err := cursor.All(ctx, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) ListRoles(ctx context.Context, f iam.ListFilter) ([]*iam.Role, error) {
	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = "name"
	}
	cursor, err := s.roles.Find(ctx, nameListFilter(f), listOptions(sortBy, f.OrderBy, f.Skip, f.Limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	roles := []*iam.Role{}
	if err := cursor.All(ctx, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) CountRoles(ctx context.Context, f iam.ListFilter) (int64, error) {
	return s.roles.CountDocuments(ctx, nameListFilter(f))
}

func (s *Store) UpdateRole(ctx context.Context, name string, upd iam.RoleUpdate) (*iam.Role, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Permissions != nil {
		set["permissions"] = *upd.Permissions
	}
	if upd.Alias != nil {
		set["alias"] = *upd.Alias
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var r iam.Role
	err := s.roles.FindOneAndUpdate(ctx, bson.M{"name": name}, bson.M{"$set": set}, opts).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("role is not found")
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) DeleteRole(ctx context.Context, name string) error {
	res, err := s.roles.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return notFound("role is not found")
	}
	return nil
}
