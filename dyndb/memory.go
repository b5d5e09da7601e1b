package dyndb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MemoryStore is an in-process Store for tests and local development. It
// evaluates the same structured conditions as the DynamoDB store, including
// sparse secondary indexes, so code written against Store behaves the same
// on both.
type MemoryStore[T any] struct {
	mu    *sync.RWMutex
	cfg   TableConfig[T]
	items map[string]map[string]types.AttributeValue
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory table.
func NewMemoryStore[T any](cfg TableConfig[T]) *MemoryStore[T] {
	return &MemoryStore[T]{
		mu:    &sync.RWMutex{},
		cfg:   cfg,
		items: make(map[string]map[string]types.AttributeValue),
		now:   time.Now,
	}
}

// NewMemoryView returns a store of record type U over the items of m. It is
// the in-memory counterpart of two typed stores on one DynamoDB table.
func NewMemoryView[U, T any](m *MemoryStore[T]) *MemoryStore[U] {
	return &MemoryStore[U]{
		mu: m.mu,
		cfg: TableConfig[U]{
			TableName:    m.cfg.TableName,
			HashKey:      m.cfg.HashKey,
			SortKey:      m.cfg.SortKey,
			TTLAttribute: m.cfg.TTLAttribute,
			TTL:          m.cfg.TTL,
			Indexes:      m.cfg.Indexes,
		},
		items: m.items,
		now:   m.now,
	}
}

// Item returns the raw stored attributes for a key.
func (m *MemoryStore[T]) Item(hashKey, sortKey any) (map[string]types.AttributeValue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[m.compositeKey(attr(hashKey), m.sortAttr(sortKey))]
	return item, ok
}

// Len returns the number of stored items.
func (m *MemoryStore[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryStore[T]) sortAttr(sortKey any) types.AttributeValue {
	if m.cfg.SortKey == "" || sortKey == nil {
		return nil
	}
	return attr(sortKey)
}

func (m *MemoryStore[T]) compositeKey(hash, sortKey types.AttributeValue) string {
	h, _ := scalar(hash)
	if sortKey == nil {
		return h
	}
	s, _ := scalar(sortKey)
	return h + "\x00" + s
}

func (m *MemoryStore[T]) itemKey(item map[string]types.AttributeValue) (string, error) {
	hash, ok := item[m.cfg.HashKey]
	if !ok {
		return "", fmt.Errorf("memorystore: item is missing hash key %q", m.cfg.HashKey)
	}
	var sortKey types.AttributeValue
	if m.cfg.SortKey != "" {
		if sortKey, ok = item[m.cfg.SortKey]; !ok {
			return "", fmt.Errorf("memorystore: item is missing sort key %q", m.cfg.SortKey)
		}
	}
	return m.compositeKey(hash, sortKey), nil
}

func (m *MemoryStore[T]) marshal(item T) (map[string]types.AttributeValue, string, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, "", fmt.Errorf("memorystore: marshal failed: %w", err)
	}
	if m.cfg.TTLAttribute != "" && m.cfg.TTL > 0 {
		if _, ok := av[m.cfg.TTLAttribute]; !ok {
			av[m.cfg.TTLAttribute] = attr(m.now().Add(m.cfg.TTL).Unix())
		}
	}
	key, err := m.itemKey(av)
	if err != nil {
		return nil, "", err
	}
	return av, key, nil
}

func unmarshalItem[T any](av map[string]types.AttributeValue) (*T, error) {
	var item T
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("memorystore: unmarshal failed: %w", err)
	}
	return &item, nil
}

func (m *MemoryStore[T]) Get(_ context.Context, hashKey, sortKey any) (*T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	av, ok := m.items[m.compositeKey(attr(hashKey), m.sortAttr(sortKey))]
	if !ok {
		return nil, ErrNotFound
	}
	return unmarshalItem[T](av)
}

func (m *MemoryStore[T]) Put(_ context.Context, item T) error {
	av, key, err := m.marshal(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = av
	return nil
}

func (m *MemoryStore[T]) Create(_ context.Context, item T) error {
	av, key, err := m.marshal(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; exists {
		return ErrAlreadyExists
	}
	m.items[key] = av
	return nil
}

func (m *MemoryStore[T]) Replace(_ context.Context, item T) error {
	av, key, err := m.marshal(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; !exists {
		return ErrNotFound
	}
	m.items[key] = av
	return nil
}

// TransactCreate stores item and companions only if none of their keys is
// taken, including by each other.
func (m *MemoryStore[T]) TransactCreate(_ context.Context, item T, companions ...any) error {
	av, key, err := m.marshal(item)
	if err != nil {
		return err
	}
	staged := map[string]map[string]types.AttributeValue{key: av}
	for _, c := range companions {
		cav, err := attributevalue.MarshalMap(c)
		if err != nil {
			return fmt.Errorf("memorystore: marshal failed: %w", err)
		}
		ckey, err := m.itemKey(cav)
		if err != nil {
			return err
		}
		if _, dup := staged[ckey]; dup {
			return ErrAlreadyExists
		}
		staged[ckey] = cav
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range staged {
		if _, exists := m.items[k]; exists {
			return ErrAlreadyExists
		}
	}
	for k, v := range staged {
		m.items[k] = v
	}
	return nil
}

func (m *MemoryStore[T]) Update(_ context.Context, hashKey, sortKey any, changes map[string]any) (*T, error) {
	item, err := m.update(hashKey, sortKey, changes, nil)
	if errors.Is(err, ErrConditionFailed) {
		return nil, ErrNotFound
	}
	return item, err
}

func (m *MemoryStore[T]) UpdateIf(_ context.Context, hashKey, sortKey any, changes map[string]any, conds ...Condition) (*T, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("memorystore: conditional update without changes")
	}
	return m.update(hashKey, sortKey, changes, conds)
}

func (m *MemoryStore[T]) update(hashKey, sortKey any, changes map[string]any, conds []Condition) (*T, error) {
	for name := range changes {
		if name == m.cfg.HashKey || (m.cfg.SortKey != "" && name == m.cfg.SortKey) {
			return nil, fmt.Errorf("memorystore: cannot update key attribute %q", name)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.compositeKey(attr(hashKey), m.sortAttr(sortKey))
	current, ok := m.items[key]
	if !ok || !matchesAll(current, conds) {
		return nil, ErrConditionFailed
	}

	next := make(map[string]types.AttributeValue, len(current)+len(changes))
	for k, v := range current {
		next[k] = v
	}
	for name, value := range changes {
		if value == nil {
			delete(next, name)
			continue
		}
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("memorystore: marshal %q failed: %w", name, err)
		}
		next[name] = av
	}
	m.items[key] = next
	return unmarshalItem[T](next)
}

func (m *MemoryStore[T]) Delete(_ context.Context, hashKey, sortKey any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, m.compositeKey(attr(hashKey), m.sortAttr(sortKey)))
	return nil
}

func (m *MemoryStore[T]) BatchWrite(ctx context.Context, puts []T, deletes [][2]any) error {
	for _, item := range puts {
		if err := m.Put(ctx, item); err != nil {
			return fmt.Errorf("batchwrite: %w", err)
		}
	}
	for _, key := range deletes {
		if err := m.Delete(ctx, key[0], key[1]); err != nil {
			return fmt.Errorf("batchwrite: %w", err)
		}
	}
	return nil
}

func (m *MemoryStore[T]) BatchGet(ctx context.Context, keys [][2]any) ([]T, error) {
	var out []T
	for _, key := range keys {
		item, err := m.Get(ctx, key[0], key[1])
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, nil
}

func (m *MemoryStore[T]) Query() *QueryBuilder[T] {
	return newQueryBuilder[T](m, false)
}

func (m *MemoryStore[T]) Scan() *QueryBuilder[T] {
	return newQueryBuilder[T](m, true)
}

func (m *MemoryStore[T]) runQuery(_ context.Context, qb *QueryBuilder[T]) ([]T, string, error) {
	hashName, sortName := m.cfg.HashKey, m.cfg.SortKey
	if qb.indexName != "" {
		idx, ok := m.cfg.index(qb.indexName)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownIndex, qb.indexName)
		}
		hashName, sortName = idx.HashKey, idx.SortKey
	}
	return m.evaluate(qb, hashName, sortName, qb.keyConds, qb.filters)
}

func (m *MemoryStore[T]) runScan(_ context.Context, qb *QueryBuilder[T]) ([]T, string, error) {
	hashName := m.cfg.HashKey
	if qb.indexName != "" {
		idx, ok := m.cfg.index(qb.indexName)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownIndex, qb.indexName)
		}
		hashName = idx.HashKey
	}
	filters := append(append([]Condition{}, qb.keyConds...), qb.filters...)
	return m.evaluate(qb, hashName, "", nil, filters)
}

type memoryRow struct {
	key  string
	item map[string]types.AttributeValue
}

func (m *MemoryStore[T]) evaluate(qb *QueryBuilder[T], hashName, sortName string, keyConds, filters []Condition) ([]T, string, error) {
	m.mu.RLock()
	rows := make([]memoryRow, 0, len(m.items))
	for key, item := range m.items {
		// items without the index hash key are not projected (sparse index)
		if _, ok := item[hashName]; !ok {
			continue
		}
		if matchesAll(item, keyConds) {
			rows = append(rows, memoryRow{key: key, item: item})
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if sortName != "" {
			if c := compareAttr(rows[i].item[sortName], rows[j].item[sortName]); c != 0 {
				return c < 0
			}
		}
		return rows[i].key < rows[j].key
	})
	if !qb.forward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	start := 0
	if len(qb.lastKey) > 0 {
		resume, err := m.itemKey(qb.lastKey)
		if err != nil {
			return nil, "", err
		}
		for i, row := range rows {
			if row.key == resume {
				start = i + 1
				break
			}
		}
	}

	// like DynamoDB, the limit counts evaluated items before filtering
	var out []T
	var lastKey map[string]types.AttributeValue
	evaluated := 0
	for i := start; i < len(rows); i++ {
		if qb.limit > 0 && evaluated == int(qb.limit) {
			lastKey = m.keyAttributes(rows[i-1].item, hashName, sortName)
			break
		}
		evaluated++
		if !matchesAll(rows[i].item, filters) {
			continue
		}
		item, err := unmarshalItem[T](rows[i].item)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *item)
	}

	token, err := encodeToken(lastKey)
	if err != nil {
		return nil, "", err
	}
	return out, token, nil
}

func (m *MemoryStore[T]) keyAttributes(item map[string]types.AttributeValue, names ...string) map[string]types.AttributeValue {
	key := map[string]types.AttributeValue{m.cfg.HashKey: item[m.cfg.HashKey]}
	if m.cfg.SortKey != "" {
		key[m.cfg.SortKey] = item[m.cfg.SortKey]
	}
	for _, name := range names {
		if v, ok := item[name]; ok && name != "" {
			key[name] = v
		}
	}
	return key
}

func matchesAll(item map[string]types.AttributeValue, conds []Condition) bool {
	for _, c := range conds {
		if !matches(item, c) {
			return false
		}
	}
	return true
}

func matches(item map[string]types.AttributeValue, c Condition) bool {
	value, ok := item[c.Name]
	if !ok {
		return false
	}
	switch c.Op {
	case OpEqual:
		return compareAttr(value, attr(c.Values[0])) == 0
	case OpBeginsWith:
		s, ok := scalar(value)
		return ok && strings.HasPrefix(s, fmt.Sprint(c.Values[0]))
	case OpBetween:
		return compareAttr(value, attr(c.Values[0])) >= 0 && compareAttr(value, attr(c.Values[1])) <= 0
	case OpGreaterEqual:
		return compareAttr(value, attr(c.Values[0])) >= 0
	case OpLessEqual:
		return compareAttr(value, attr(c.Values[0])) <= 0
	case OpContains:
		return contains(value, fmt.Sprint(c.Values[0]))
	default:
		return false
	}
}

func contains(value types.AttributeValue, needle string) bool {
	switch v := value.(type) {
	case *types.AttributeValueMemberS:
		return strings.Contains(v.Value, needle)
	case *types.AttributeValueMemberSS:
		for _, s := range v.Value {
			if s == needle {
				return true
			}
		}
	case *types.AttributeValueMemberL:
		for _, elem := range v.Value {
			if s, ok := scalar(elem); ok && s == needle {
				return true
			}
		}
	}
	return false
}

func scalar(av types.AttributeValue) (string, bool) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, true
	case *types.AttributeValueMemberN:
		return v.Value, true
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(v.Value), true
	default:
		return "", false
	}
}

func compareAttr(a, b types.AttributeValue) int {
	an, aNum := a.(*types.AttributeValueMemberN)
	bn, bNum := b.(*types.AttributeValueMemberN)
	if aNum && bNum {
		af, errA := strconv.ParseFloat(an.Value, 64)
		bf, errB := strconv.ParseFloat(bn.Value, 64)
		if errA == nil && errB == nil {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, _ := scalar(a)
	bs, _ := scalar(b)
	return strings.Compare(as, bs)
}

var (
	_ Store[struct{}] = (*MemoryStore[struct{}])(nil)
	_ Store[struct{}] = (*dynamoStore[struct{}])(nil)
)
