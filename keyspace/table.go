package keyspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/raywall/gifted-service/dyndb"
)

var (
	// ErrIncompleteKey is returned when an entity would be written without a
	// partition or sort key.
	ErrIncompleteKey = errors.New("keyspace: entity has an incomplete primary key")

	// ErrKeyChanged is returned when an attribute delta would move a record
	// to a different primary key.
	ErrKeyChanged = errors.New("keyspace: update would change the primary key")
)

// Entity is implemented by pointers to the keyed record types. Keys derives
// the four key attributes from the record's own fields.
type Entity[T any] interface {
	*T
	Keys() Keys
	stamp(Keys)
}

// SortKey narrows a query to part of a partition.
type SortKey struct {
	op     dyndb.Operator
	values []string
}

// AnySortKey matches the whole partition.
var AnySortKey = SortKey{}

func Exact(value string) SortKey {
	return SortKey{op: dyndb.OpEqual, values: []string{value}}
}

func Prefix(prefix string) SortKey {
	return SortKey{op: dyndb.OpBeginsWith, values: []string{prefix}}
}

// Between matches lower <= sort key <= upper. An empty bound is open.
func Between(lower, upper string) SortKey {
	switch {
	case lower == "" && upper == "":
		return AnySortKey
	case lower == "":
		return SortKey{op: dyndb.OpLessEqual, values: []string{upper}}
	case upper == "":
		return SortKey{op: dyndb.OpGreaterEqual, values: []string{lower}}
	}
	return SortKey{op: dyndb.OpBetween, values: []string{lower, upper}}
}

func applySortKey[T any](qb *dyndb.QueryBuilder[T], attr string, sk SortKey) *dyndb.QueryBuilder[T] {
	switch sk.op {
	case dyndb.OpEqual:
		return qb.KeyEqual(attr, sk.values[0])
	case dyndb.OpBeginsWith:
		return qb.KeyBeginsWith(attr, sk.values[0])
	case dyndb.OpBetween:
		return qb.KeyBetween(attr, sk.values[0], sk.values[1])
	case dyndb.OpGreaterEqual:
		return qb.KeyGreaterOrEqual(attr, sk.values[0])
	case dyndb.OpLessEqual:
		return qb.KeyLessOrEqual(attr, sk.values[0])
	}
	return qb
}

// Keyed is any keyed record pointer that can be written next to a table's
// own entity.
type Keyed interface {
	Keys() Keys
	stamp(Keys)
}

// Table is the typed access path for one keyed entity. Every write derives
// the keys from the entity, so secondary keys can never go stale.
type Table[T any, P Entity[T]] struct {
	store dyndb.Store[T]
	valid *validator.Validate
}

func NewTable[T any, P Entity[T]](store dyndb.Store[T]) *Table[T, P] {
	return &Table[T, P]{store: store, valid: validator.New()}
}

type (
	Users         = Table[User, *User]
	EmailClaims   = Table[EmailClaim, *EmailClaim]
	SignInLinks   = Table[SignInLink, *SignInLink]
	Gifts         = Table[Gift, *Gift]
	Subscriptions = Table[Subscription, *Subscription]
	Payments      = Table[Payment, *Payment]
)

func (t *Table[T, P]) prepare(ctx context.Context, item *T) error {
	keys := P(item).Keys()
	if keys.PK == "" || keys.SK == "" {
		return ErrIncompleteKey
	}
	P(item).stamp(keys)
	if err := t.valid.StructCtx(ctx, item); err != nil {
		return err
	}
	return nil
}

// Put stamps the keys and writes the full record, replacing any previous
// version.
func (t *Table[T, P]) Put(ctx context.Context, item *T) error {
	if err := t.prepare(ctx, item); err != nil {
		return err
	}
	if err := t.store.Put(ctx, *item); err != nil {
		return fmt.Errorf("keyspace: put: %w", err)
	}
	return nil
}

// Create is Put conditioned on the key being free. A taken key returns
// dyndb.ErrAlreadyExists.
func (t *Table[T, P]) Create(ctx context.Context, item *T) error {
	if err := t.prepare(ctx, item); err != nil {
		return err
	}
	if err := t.store.Create(ctx, *item); err != nil {
		return fmt.Errorf("keyspace: create: %w", err)
	}
	return nil
}

// CreateWith creates item and the companion records in one transaction.
// If any of the keys is taken nothing is written and dyndb.ErrAlreadyExists
// is returned.
func (t *Table[T, P]) CreateWith(ctx context.Context, item *T, companions ...Keyed) error {
	if err := t.prepare(ctx, item); err != nil {
		return err
	}
	others := make([]any, 0, len(companions))
	for _, c := range companions {
		keys := c.Keys()
		if keys.PK == "" || keys.SK == "" {
			return ErrIncompleteKey
		}
		c.stamp(keys)
		if err := t.valid.StructCtx(ctx, c); err != nil {
			return err
		}
		others = append(others, c)
	}
	if err := t.store.TransactCreate(ctx, *item, others...); err != nil {
		return fmt.Errorf("keyspace: create: %w", err)
	}
	return nil
}

func (t *Table[T, P]) Get(ctx context.Context, pk, sk string) (*T, error) {
	item, err := t.store.Get(ctx, pk, sk)
	if err != nil {
		return nil, fmt.Errorf("keyspace: get %s/%s: %w", pk, sk, err)
	}
	return item, nil
}

// QueryByPrimary returns the records of one partition ordered by sort key.
func (t *Table[T, P]) QueryByPrimary(ctx context.Context, pk string, sk SortKey) ([]T, error) {
	qb := applySortKey(t.store.Query().KeyEqual(AttrPK, pk), AttrSK, sk)
	items, err := qb.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("keyspace: query %s: %w", pk, err)
	}
	return items, nil
}

// QueryBySecondary queries GSI1 across partitions, ordered by GSI1SK.
func (t *Table[T, P]) QueryBySecondary(ctx context.Context, gsi1pk string, sk SortKey) ([]T, error) {
	qb := applySortKey(t.store.Query().Index(IndexGSI1).KeyEqual(AttrGSI1PK, gsi1pk), AttrGSI1SK, sk)
	items, err := qb.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("keyspace: query %s %s: %w", IndexGSI1, gsi1pk, err)
	}
	return items, nil
}

// UpdateAttributes reads the record, applies delta, re-derives all keys and
// writes it back on condition that it still exists. A missing record yields
// dyndb.ErrNotFound; a delta touching the primary key yields ErrKeyChanged.
func (t *Table[T, P]) UpdateAttributes(ctx context.Context, pk, sk string, delta func(*T) error) (*T, error) {
	item, err := t.store.Get(ctx, pk, sk)
	if err != nil {
		return nil, fmt.Errorf("keyspace: update %s/%s: %w", pk, sk, err)
	}
	if err := delta(item); err != nil {
		return nil, err
	}
	keys := P(item).Keys()
	if keys.PK != pk || keys.SK != sk {
		return nil, ErrKeyChanged
	}
	if err := t.prepare(ctx, item); err != nil {
		return nil, err
	}
	if err := t.store.Replace(ctx, *item); err != nil {
		return nil, fmt.Errorf("keyspace: update %s/%s: %w", pk, sk, err)
	}
	return item, nil
}

func (t *Table[T, P]) Delete(ctx context.Context, pk, sk string) error {
	if err := t.store.Delete(ctx, pk, sk); err != nil {
		return fmt.Errorf("keyspace: delete %s/%s: %w", pk, sk, err)
	}
	return nil
}
