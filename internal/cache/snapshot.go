package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var snapshotBucket = []byte("cache_entries")

// SnapshotStore 缓存条目的本地持久化
// 尽力而为：读写失败只影响重启后的首屏速度，不影响正确性
type SnapshotStore struct {
	path string
}

// NewSnapshotStore 创建快照存储
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Load 读取全部快照条目，按捕获时间从旧到新排序
// 损坏的记录直接跳过，不让单条坏数据毁掉整个加载
func (s *SnapshotStore) Load() ([]Entry, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var entries []Entry
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if len(v) == 0 {
				return nil
			}
			if err := json.Unmarshal(v, &e); err != nil {
				// 跳过损坏条目
				return nil
			}
			if e.ConversationID == "" {
				e.ConversationID = string(k)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CapturedAt.Before(entries[j].CapturedAt)
	})
	return entries, nil
}

// Save 写入单个条目
func (s *SnapshotStore) Save(entry Entry) error {
	return s.update(func(b *bolt.Bucket) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.ConversationID), data)
	})
}

// Delete 删除单个条目
func (s *SnapshotStore) Delete(conversationID string) error {
	return s.update(func(b *bolt.Bucket) error {
		return b.Delete([]byte(conversationID))
	})
}

func (s *SnapshotStore) update(fn func(*bolt.Bucket) error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(snapshotBucket)
		if err != nil {
			return err
		}
		return fn(b)
	})
}
