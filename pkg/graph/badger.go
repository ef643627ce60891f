package graph

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Key layout:
//
//	0x01 label 0x00 key              -> JSON(Node)
//	0x02 type 0x00 fromRef 0x00 toRef -> JSON(Edge)
//	0x03 label 0x00 key              -> uvarint len, space, little-endian float32 vector
//
// where a ref is label 0x1f key.
const (
	prefixNode   = byte(0x01)
	prefixEdge   = byte(0x02)
	prefixVector = byte(0x03)

	sep    = byte(0x00)
	refSep = byte(0x1f)
)

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	Dir       string
	InMemory  bool
	Dimension int
}

// BadgerStore is a Store on an embedded BadgerDB.
type BadgerStore struct {
	db        *badger.DB
	dimension int
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore opens (or creates) the store.
func NewBadgerStore(opts BadgerOptions, logger *zap.Logger) (*BadgerStore, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("graph dimension must be positive, got %d", opts.Dimension)
	}

	badgerOpts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	// A 2048-wide vector is 8KB; keep values under 16KB inline in the LSM tree.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithValueThreshold(16 << 10)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	return &BadgerStore{
		db:        db,
		dimension: opts.Dimension,
		logger:    logger.Named("graph"),
	}, nil
}

// NewInMemoryStore opens a non-persistent store, for tests and dry runs.
func NewInMemoryStore(dimension int, logger *zap.Logger) (*BadgerStore, error) {
	return NewBadgerStore(BadgerOptions{InMemory: true, Dimension: dimension}, logger)
}

var _ Store = (*BadgerStore)(nil)

func (s *BadgerStore) Dimension() int {
	return s.dimension
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BadgerStore) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func nodeKey(prefix byte, ref NodeRef) []byte {
	key := make([]byte, 0, 2+len(ref.Label)+len(ref.Key))
	key = append(key, prefix)
	key = append(key, ref.Label...)
	key = append(key, sep)
	return append(key, ref.Key...)
}

func refBytes(ref NodeRef) []byte {
	b := make([]byte, 0, 1+len(ref.Label)+len(ref.Key))
	b = append(b, ref.Label...)
	b = append(b, refSep)
	return append(b, ref.Key...)
}

func edgeKey(e Edge) []byte {
	var buf bytes.Buffer
	buf.WriteByte(prefixEdge)
	buf.WriteString(e.Type)
	buf.WriteByte(sep)
	buf.Write(refBytes(e.From))
	buf.WriteByte(sep)
	buf.Write(refBytes(e.To))
	return buf.Bytes()
}

func encodeVector(space string, vec []float32) []byte {
	out := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+len(space)+4*len(vec)), uint64(len(space)))
	out = append(out, space...)
	for _, v := range vec {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func decodeVector(data []byte) (string, []float32, error) {
	n, read := binary.Uvarint(data)
	if read <= 0 || uint64(len(data)-read) < n {
		return "", nil, fmt.Errorf("corrupt vector record")
	}
	space := string(data[read : read+int(n)])
	data = data[read+int(n):]
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return space, vec, nil
}

// spaceOf reads only the space tag of an encoded vector.
func spaceOf(data []byte) string {
	n, read := binary.Uvarint(data)
	if read <= 0 || uint64(len(data)-read) < n {
		return ""
	}
	return string(data[read : read+int(n)])
}

func (s *BadgerStore) UpsertNode(ctx context.Context, node Node) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if node.Label == "" || node.Key == "" {
		return fmt.Errorf("node label and key are required")
	}
	node.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(nodeKey(prefixNode, node.Ref()), data)
	})
}

func (s *BadgerStore) UpsertEdge(ctx context.Context, edge Edge) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if edge.Type == "" {
		return fmt.Errorf("edge type is required")
	}
	edge.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("failed to encode edge: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, end := range []NodeRef{edge.From, edge.To} {
			if _, err := txn.Get(nodeKey(prefixNode, end)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: %s %s", ErrNodeNotFound, end.Label, end.Key)
				}
				return err
			}
		}
		return txn.Set(edgeKey(edge), data)
	})
}

func (s *BadgerStore) UpsertVector(ctx context.Context, ref NodeRef, space string, vec []float32) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if len(vec) != s.dimension {
		return fmt.Errorf("%w: got %d, store is %d", ErrDimensionMismatch, len(vec), s.dimension)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(prefixNode, ref)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s %s", ErrNodeNotFound, ref.Label, ref.Key)
			}
			return err
		}
		return txn.Set(nodeKey(prefixVector, ref), encodeVector(space, vec))
	})
}

func (s *BadgerStore) QueryNearest(ctx context.Context, vec []float32, k int, opts QueryOptions) ([]Match, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	if len(vec) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, store is %d", ErrDimensionMismatch, len(vec), s.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	prefix := []byte{prefixVector}
	if opts.Label != "" {
		prefix = append(prefix, opts.Label...)
		prefix = append(prefix, sep)
	}

	type scored struct {
		ref   NodeRef
		score float64
	}
	var hits []scored

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var (
				score   float64
				inSpace = true
			)
			if err := item.Value(func(val []byte) error {
				space, stored, err := decodeVector(val)
				if err != nil {
					return err
				}
				if opts.Space != "" && space != opts.Space {
					inSpace = false
					return nil
				}
				score = CosineSimilarity(vec, stored)
				return nil
			}); err != nil {
				return err
			}
			if !inSpace || score < opts.MinScore {
				continue
			}
			label, key, ok := bytes.Cut(item.Key()[1:], []byte{sep})
			if !ok {
				continue
			}
			hits = append(hits, scored{ref: NodeRef{Label: string(label), Key: string(key)}, score: score})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan vectors: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].ref.Key < hits[j].ref.Key
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		node, err := s.GetNode(ctx, h.ref)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Node: *node, Score: h.score})
	}
	return matches, nil
}

// GetNode returns a node, or ErrNodeNotFound.
func (s *BadgerStore) GetNode(ctx context.Context, ref NodeRef) (*Node, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	var node Node
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(prefixNode, ref))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &node)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrNodeNotFound, ref.Label, ref.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node: %w", err)
	}
	return &node, nil
}

func (s *BadgerStore) Neighbors(ctx context.Context, ref NodeRef, edgeType string) ([]NodeRef, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	prefix := []byte{prefixEdge}
	prefix = append(prefix, edgeType...)
	prefix = append(prefix, sep)
	prefix = append(prefix, refBytes(ref)...)
	prefix = append(prefix, sep)

	var out []NodeRef
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, parseRef(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan edges: %w", err)
	}
	return out, nil
}

func parseRef(b []byte) NodeRef {
	label, key, _ := bytes.Cut(b, []byte{refSep})
	return NodeRef{Label: string(label), Key: string(key)}
}

func (s *BadgerStore) DeleteNode(ctx context.Context, ref NodeRef) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	target := refBytes(ref)
	return s.db.Update(func(txn *badger.Txn) error {
		var edgeKeys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		prefix := []byte{prefixEdge}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			parts := bytes.SplitN(key[1:], []byte{sep}, 3)
			if len(parts) == 3 && (bytes.Equal(parts[1], target) || bytes.Equal(parts[2], target)) {
				edgeKeys = append(edgeKeys, key)
			}
		}
		it.Close()

		for _, k := range edgeKeys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		if err := txn.Delete(nodeKey(prefixVector, ref)); err != nil {
			return err
		}
		return txn.Delete(nodeKey(prefixNode, ref))
	})
}

func (s *BadgerStore) DeleteVector(ctx context.Context, ref NodeRef) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(nodeKey(prefixVector, ref))
	})
}

// VectorSpace returns the embedding space of ref's vector, and false when
// the node has none.
func (s *BadgerStore) VectorSpace(ctx context.Context, ref NodeRef) (string, bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return "", false, err
	}
	var space string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(prefixVector, ref))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			space = spaceOf(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return space, true, nil
}

// HasVector reports whether a vector is stored for ref.
func (s *BadgerStore) HasVector(ctx context.Context, ref NodeRef) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(nodeKey(prefixVector, ref))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Edges returns every edge of the given type, or of all types when edgeType is empty.
func (s *BadgerStore) Edges(ctx context.Context, edgeType string) ([]Edge, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	prefix := []byte{prefixEdge}
	if edgeType != "" {
		prefix = append(prefix, edgeType...)
		prefix = append(prefix, sep)
	}

	var edges []Edge
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Edge
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			edges = append(edges, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan edges: %w", err)
	}
	return edges, nil
}

// CountNodes returns the number of nodes with the label, or all nodes when label is empty.
func (s *BadgerStore) CountNodes(ctx context.Context, label string) (int, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	prefix := []byte{prefixNode}
	if label != "" {
		prefix = append(prefix, label...)
		prefix = append(prefix, sep)
	}

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
