package prefetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketSegments = []byte("segments")
	bucketMeta     = []byte("meta")
)

// minCompressSize is the payload size below which compression is skipped.
const minCompressSize = 1024

// segmentMeta is stored as JSON next to each payload.
type segmentMeta struct {
	Size       int64     `json:"size"`   // uncompressed length
	Stored     int64     `json:"stored"` // length on disk
	Compressed bool      `json:"compressed"`
	Complete   bool      `json:"complete"`
	Total      int64     `json:"total"`
	Touched    time.Time `json:"touched"`
}

// StoreStats summarizes the contents of a DiskStore.
type StoreStats struct {
	Count       int   `json:"count"`
	Bytes       int64 `json:"bytes"`
	StoredBytes int64 `json:"stored_bytes"`
	MaxBytes    int64 `json:"max_bytes"`
}

// DiskStore keeps segment payloads in a bolt database so recitations can
// be replayed offline. Payloads are zstd-compressed when that saves space.
// The store is bounded by MaxBytes of uncompressed payload and evicts the
// least recently touched segments first.
type DiskStore struct {
	db       *bolt.DB
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	maxBytes int64
	log      *log.Logger

	mu sync.Mutex
}

// OpenDiskStore opens or creates the store at path.
func OpenDiskStore(path string, maxBytes int64, logger *log.Logger) (*DiskStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open segment store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSegments, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &DiskStore{
		db:       db,
		encoder:  encoder,
		decoder:  decoder,
		maxBytes: maxBytes,
		log:      logger.WithPrefix("store"),
	}, nil
}

// Get returns the stored payload for url and refreshes its recency.
func (s *DiskStore) Get(url string) (Payload, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		raw  []byte
		meta segmentMeta
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(bucketMeta).Get([]byte(url))
		if mb == nil {
			return nil
		}
		if err := json.Unmarshal(mb, &meta); err != nil {
			return err
		}
		// Bolt values are only valid for the life of the transaction.
		raw = append([]byte(nil), tx.Bucket(bucketSegments).Get([]byte(url))...)

		meta.Touched = time.Now()
		updated, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(url), updated)
	})
	if err != nil || raw == nil {
		return Payload{}, false, err
	}

	data := raw
	if meta.Compressed {
		data, err = s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return Payload{}, false, fmt.Errorf("failed to decompress %s: %w", url, err)
		}
	}

	return Payload{Data: data, Complete: meta.Complete, Total: meta.Total}, true, nil
}

// Put stores p for url, replacing any earlier payload, then evicts down to
// the low-water mark if the store is over budget.
func (s *DiskStore) Put(url string, p Payload) error {
	if s.maxBytes > 0 && int64(len(p.Data)) > s.maxBytes {
		return ErrTooLarge
	}

	stored := p.Data
	compressed := false
	if len(p.Data) > minCompressSize {
		if c := s.encoder.EncodeAll(p.Data, nil); len(c) < len(p.Data) {
			stored = c
			compressed = true
		}
	}

	meta, err := json.Marshal(segmentMeta{
		Size:       int64(len(p.Data)),
		Stored:     int64(len(stored)),
		Compressed: compressed,
		Complete:   p.Complete,
		Total:      p.Total,
		Touched:    time.Now(),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSegments).Put([]byte(url), stored); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMeta).Put([]byte(url), meta); err != nil {
			return err
		}
		return s.evict(tx, url)
	})
}

// evict removes least recently touched segments, never keep, until the
// total is within 80% of the budget (must be called inside an update).
func (s *DiskStore) evict(tx *bolt.Tx, keep string) error {
	if s.maxBytes <= 0 {
		return nil
	}

	type item struct {
		key     string
		size    int64
		touched time.Time
	}
	var (
		items []item
		total int64
	)
	err := tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
		var m segmentMeta
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		total += m.Size
		if string(k) != keep {
			items = append(items, item{key: string(k), size: m.Size, touched: m.Touched})
		}
		return nil
	})
	if err != nil || total <= s.maxBytes {
		return err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].touched.Before(items[j].touched)
	})

	target := int64(float64(s.maxBytes) * DefaultLowWaterRatio)
	for _, it := range items {
		if total <= target {
			break
		}
		if err := tx.Bucket(bucketSegments).Delete([]byte(it.key)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMeta).Delete([]byte(it.key)); err != nil {
			return err
		}
		total -= it.size
		s.log.Debug("evicted segment", "url", it.key, "bytes", it.size)
	}
	return nil
}

// Stats reports the number and size of stored segments.
func (s *DiskStore) Stats() (StoreStats, error) {
	st := StoreStats{MaxBytes: s.maxBytes}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(_, v []byte) error {
			var m segmentMeta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			st.Count++
			st.Bytes += m.Size
			st.StoredBytes += m.Stored
			return nil
		})
	})
	return st, err
}

// Clear removes every stored segment.
func (s *DiskStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSegments, bucketMeta} {
			if err := tx.DeleteBucket(b); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the database and codecs.
func (s *DiskStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// StoreFetcher serves fetches from a DiskStore and fills it from Next on a
// miss.
type StoreFetcher struct {
	Store *DiskStore
	Next  Fetcher
}

// Fetch implements Fetcher.
func (f *StoreFetcher) Fetch(ctx context.Context, url string, maxBytes int64) (Payload, error) {
	if p, ok, err := f.Store.Get(url); err == nil && ok && covers(p, maxBytes) {
		return trim(p, maxBytes), nil
	} else if err != nil {
		f.Store.log.Warn("store read failed", "url", url, "err", err)
	}

	p, err := f.Next.Fetch(ctx, url, maxBytes)
	if err != nil {
		return Payload{}, err
	}
	if err := f.Store.Put(url, p); err != nil {
		f.Store.log.Debug("store write skipped", "url", url, "err", err)
	}
	return p, nil
}

// covers reports whether p satisfies a request for maxBytes.
func covers(p Payload, maxBytes int64) bool {
	if p.Complete {
		return true
	}
	return maxBytes > 0 && int64(len(p.Data)) >= maxBytes
}

func trim(p Payload, maxBytes int64) Payload {
	if maxBytes <= 0 || int64(len(p.Data)) <= maxBytes {
		return p
	}
	return Payload{Data: p.Data[:maxBytes], Complete: false, Total: p.Total}
}
