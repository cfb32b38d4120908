// Package router maps named operations onto the data store and the user
// service, enforcing permission checks before any backend is touched.
package router

import (
	"context"
	"errors"
	"fmt"

	"orbdata.io/internal/audit"
	"orbdata.io/internal/auth"
	"orbdata.io/internal/dataops"
	"orbdata.io/internal/obs"
	"orbdata.io/internal/perm"
	"orbdata.io/internal/users"
)

var (
	ErrUnknownOperation = errors.New("router: unknown operation")
	ErrMissingTarget    = errors.New("router: database and collection are required")
	ErrMissingDocument  = errors.New("router: document payload is required")
	ErrMissingUpdate    = errors.New("router: update payload is required")
	ErrMissingUserID    = errors.New("router: user_id is required")
	ErrSelfDelete       = errors.New("router: a user cannot delete itself")
)

// Operation is one of the closed set of named operations.
type Operation string

const (
	OpCreateUser Operation = "create_user"
	OpUpdateUser Operation = "update_user"
	OpDeleteUser Operation = "delete_user"

	OpFindOne        Operation = "find_one"
	OpFind           Operation = "find"
	OpCountDocuments Operation = "count_documents"

	OpInsertOne  Operation = "insert_one"
	OpInsertMany Operation = "insert_many"
	OpUpdateOne  Operation = "update_one"
	OpUpdateMany Operation = "update_many"
	OpDeleteOne  Operation = "delete_one"
	OpDeleteMany Operation = "delete_many"
)

// categories is the static operation table. An operation missing here
// does not exist.
var categories = map[Operation]perm.Category{
	OpCreateUser: perm.CategoryUserManagement,
	OpUpdateUser: perm.CategoryUserManagement,
	OpDeleteUser: perm.CategoryUserManagement,

	OpFindOne:        perm.CategoryRead,
	OpFind:           perm.CategoryRead,
	OpCountDocuments: perm.CategoryRead,

	OpInsertOne:  perm.CategoryWrite,
	OpInsertMany: perm.CategoryWrite,
	OpUpdateOne:  perm.CategoryWrite,
	OpUpdateMany: perm.CategoryWrite,
	OpDeleteOne:  perm.CategoryWrite,
	OpDeleteMany: perm.CategoryWrite,
}

// ParseOperation resolves a request name against the operation table.
func ParseOperation(name string) (Operation, error) {
	op := Operation(name)
	if _, ok := categories[op]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	return op, nil
}

// Category returns the permission category an operation is checked under.
func (op Operation) Category() perm.Category {
	if c, ok := categories[op]; ok {
		return c
	}
	return perm.CategoryUnknown
}

// UserParams carries the user-management payload of a request.
type UserParams struct {
	UserID   string            `json:"user_id"`
	Policy   string            `json:"policy"`
	Metadata map[string]string `json:"metadata"`
	Read     perm.Grant        `json:"read,omitzero"`
	Write    perm.Grant        `json:"write,omitzero"`
}

// Request is the operation payload. Data operations name a target
// database and collection; user-management operations use User.
type Request struct {
	Database   string              `json:"database"`
	Collection string              `json:"collection"`
	Filter     map[string]any      `json:"filter"`
	Projection map[string]any      `json:"projection"`
	Sort       []dataops.SortField `json:"sort"`
	Limit      int64               `json:"limit"`
	Offset     int64               `json:"offset"`
	BatchSize  int32               `json:"batch_size"`
	Document   map[string]any      `json:"document"`
	Documents  []map[string]any    `json:"documents"`
	Update     map[string]any      `json:"update"`
	User       UserParams          `json:"user"`
}

func (r Request) query() dataops.Query {
	return dataops.Query{
		Filter:     r.Filter,
		Projection: r.Projection,
		Sort:       r.Sort,
		Limit:      r.Limit,
		Offset:     r.Offset,
		BatchSize:  r.BatchSize,
	}
}

// DataBackend is the document-store surface the router dispatches to.
type DataBackend interface {
	FetchOne(ctx context.Context, db, coll string, q dataops.Query) (map[string]any, error)
	Fetch(ctx context.Context, db, coll string, q dataops.Query) ([]map[string]any, error)
	Count(ctx context.Context, db, coll string, filter map[string]any) (int64, error)
	InsertOne(ctx context.Context, db, coll string, doc map[string]any) (string, error)
	InsertMany(ctx context.Context, db, coll string, docs []map[string]any) ([]string, error)
	UpdateOne(ctx context.Context, db, coll string, filter, update map[string]any) (dataops.UpdateResult, error)
	UpdateMany(ctx context.Context, db, coll string, filter, update map[string]any) (dataops.UpdateResult, error)
	DeleteOne(ctx context.Context, db, coll string, filter map[string]any) (int64, error)
	DeleteMany(ctx context.Context, db, coll string, filter map[string]any) (int64, error)
}

// UserBackend is the user-management surface the router dispatches to.
type UserBackend interface {
	Create(ctx context.Context, p users.CreateParams) (string, error)
	Update(ctx context.Context, p users.UpdateParams) error
	Delete(ctx context.Context, userID string) error
}

// Router authorizes and dispatches named operations.
type Router struct {
	data  DataBackend
	users UserBackend
}

// New wires the two backends.
func New(data DataBackend, users UserBackend) (*Router, error) {
	if data == nil || users == nil {
		return nil, errors.New("router: both backends are required")
	}
	return &Router{data: data, users: users}, nil
}

// Route resolves the operation name, checks the caller's grants against
// the operation's category and target, and dispatches. Backend errors
// pass through unchanged so the transport layer can map them.
func (rt *Router) Route(ctx context.Context, claims auth.Claims, name string, req Request) (any, error) {
	op, err := ParseOperation(name)
	if err != nil {
		return nil, err
	}
	audit.SetAction(ctx, string(op))

	cat := op.Category()
	if cat != perm.CategoryUserManagement {
		if req.Database == "" || req.Collection == "" {
			return nil, ErrMissingTarget
		}
	}
	if err := perm.Authorize(cat, req.Database, req.Collection, claims.Permissions); err != nil {
		obs.ObserveOperation(string(op), "denied")
		return nil, err
	}

	res, err := rt.dispatch(ctx, claims, op, req)
	if err != nil {
		obs.ObserveOperation(string(op), "error")
		return nil, err
	}
	obs.ObserveOperation(string(op), "ok")
	return res, nil
}

func (rt *Router) dispatch(ctx context.Context, claims auth.Claims, op Operation, req Request) (any, error) {
	switch op {
	case OpFindOne:
		doc, err := rt.data.FetchOne(ctx, req.Database, req.Collection, req.query())
		if err != nil {
			return nil, err
		}
		return map[string]any{"document": doc}, nil

	case OpFind:
		docs, err := rt.data.Fetch(ctx, req.Database, req.Collection, req.query())
		if err != nil {
			return nil, err
		}
		return map[string]any{"documents": docs}, nil

	case OpCountDocuments:
		n, err := rt.data.Count(ctx, req.Database, req.Collection, req.Filter)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil

	case OpInsertOne:
		if len(req.Document) == 0 {
			return nil, ErrMissingDocument
		}
		id, err := rt.data.InsertOne(ctx, req.Database, req.Collection, req.Document)
		if err != nil {
			return nil, err
		}
		return map[string]any{"inserted_id": id}, nil

	case OpInsertMany:
		if len(req.Documents) == 0 {
			return nil, ErrMissingDocument
		}
		ids, err := rt.data.InsertMany(ctx, req.Database, req.Collection, req.Documents)
		if err != nil {
			return nil, err
		}
		return map[string]any{"inserted_ids": ids}, nil

	case OpUpdateOne, OpUpdateMany:
		if len(req.Update) == 0 {
			return nil, ErrMissingUpdate
		}
		var (
			res dataops.UpdateResult
			err error
		)
		if op == OpUpdateMany {
			res, err = rt.data.UpdateMany(ctx, req.Database, req.Collection, req.Filter, req.Update)
		} else {
			res, err = rt.data.UpdateOne(ctx, req.Database, req.Collection, req.Filter, req.Update)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"matched": res.Matched, "modified": res.Modified}, nil

	case OpDeleteOne, OpDeleteMany:
		var (
			n   int64
			err error
		)
		if op == OpDeleteMany {
			n, err = rt.data.DeleteMany(ctx, req.Database, req.Collection, req.Filter)
		} else {
			n, err = rt.data.DeleteOne(ctx, req.Database, req.Collection, req.Filter)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": n}, nil

	case OpCreateUser:
		if req.User.UserID == "" {
			return nil, ErrMissingUserID
		}
		key, err := rt.users.Create(ctx, users.CreateParams{
			UserID:   req.User.UserID,
			Policy:   req.User.Policy,
			Metadata: req.User.Metadata,
			Read:     req.User.Read,
			Write:    req.User.Write,
		})
		if err != nil {
			return nil, err
		}
		// The plaintext key appears exactly once, in this response.
		return map[string]any{"user_id": req.User.UserID, "api_key": key}, nil

	case OpUpdateUser:
		if req.User.UserID == "" {
			return nil, ErrMissingUserID
		}
		err := rt.users.Update(ctx, users.UpdateParams{
			UserID: req.User.UserID,
			Policy: req.User.Policy,
			Read:   req.User.Read,
			Write:  req.User.Write,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"updated": true}, nil

	case OpDeleteUser:
		if req.User.UserID == "" {
			return nil, ErrMissingUserID
		}
		if req.User.UserID == claims.UserID {
			return nil, ErrSelfDelete
		}
		if err := rt.users.Delete(ctx, req.User.UserID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
}
