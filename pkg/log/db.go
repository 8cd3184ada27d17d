package log

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Logs are stored in one bucket, keyed by time and a sequence
// number. Logs with a recorder id are also indexed per recorder.
//
// logs
// └── [time][seq] -> json
// recorders
// ├── <recorder id>
// │   └── [time][seq] -> nil
// └── <recorder id>
var (
	logsBucket      = []byte("logs")
	recordersBucket = []byte("recorders")
)

const defaultMaxKeys = 100000

// NewDB new log database.
func NewDB(dbPath string, wg *sync.WaitGroup) *DB {
	return &DB{
		dbPath:  dbPath,
		maxKeys: defaultMaxKeys,

		wg:     wg,
		saveWG: &sync.WaitGroup{},
	}
}

// DB log database.
type DB struct {
	dbPath  string
	maxKeys int

	db *bolt.DB
	wg *sync.WaitGroup

	// Wait for last log to be saved before losing db.
	saveWG *sync.WaitGroup
}

// Init opens the database and closes it when ctx is canceled.
func (logDB *DB) Init(ctx context.Context) error {
	db, err := bolt.Open(logDB.dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open database: %v: %w", logDB.dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{logsBucket, recordersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create bucket: %w", err)
	}
	logDB.db = db

	logDB.wg.Add(1)
	go func() {
		defer logDB.wg.Done()
		<-ctx.Done()
		logDB.saveWG.Wait()
		db.Close()
	}()
	return nil
}

// SaveLogs saves logs from the logger until ctx is canceled.
func (logDB *DB) SaveLogs(ctx context.Context, l *Logger) {
	logDB.saveWG.Add(1)
	defer logDB.saveWG.Done()

	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case log := <-feed:
			if err := logDB.saveLog(log); err != nil {
				fmt.Fprintf(os.Stderr, "could not save log: %v %v\n", log.Msg, err)
			}
		}
	}
}

func (logDB *DB) saveLog(log Log) error {
	value, err := json.Marshal(log)
	if err != nil {
		return err
	}
	return logDB.db.Update(func(tx *bolt.Tx) error {
		logs := tx.Bucket(logsBucket)
		for logs.Stats().KeyN >= logDB.maxKeys {
			if err := deleteOldest(tx); err != nil {
				return fmt.Errorf("delete oldest log: %w", err)
			}
		}

		seq, err := logs.NextSequence()
		if err != nil {
			return err
		}
		key := encodeKey(log.Time, seq)
		if err := logs.Put(key, value); err != nil {
			return err
		}
		if log.Recorder == "" {
			return nil
		}
		index, err := tx.Bucket(recordersBucket).CreateBucketIfNotExists([]byte(log.Recorder))
		if err != nil {
			return err
		}
		return index.Put(key, nil)
	})
}

// deleteOldest deletes the oldest log and its index entry.
// The index of the recorder is dropped when it becomes empty.
func deleteOldest(tx *bolt.Tx) error {
	logs := tx.Bucket(logsBucket)
	key, value := logs.Cursor().First()
	if key == nil {
		return nil
	}
	var log Log
	if err := json.Unmarshal(value, &log); err == nil && log.Recorder != "" {
		recorders := tx.Bucket(recordersBucket)
		if index := recorders.Bucket([]byte(log.Recorder)); index != nil {
			if err := index.Delete(key); err != nil {
				return err
			}
			if k, _ := index.Cursor().First(); k == nil {
				if err := recorders.DeleteBucket([]byte(log.Recorder)); err != nil {
					return err
				}
			}
		}
	}
	return logs.Delete(key)
}

// Query database query. Zero values match everything.
type Query struct {
	Levels  []Level
	Sources []string

	// Only logs from this recorder session.
	Recorder string

	// Time window, Since inclusive and Until exclusive.
	Since UnixMicro
	Until UnixMicro

	Limit int
}

func (q Query) match(log Log) bool {
	return levelInLevels(log.Level, q.Levels) &&
		stringInStrings(log.Src, q.Sources) &&
		(q.Recorder == "" || log.Recorder == q.Recorder)
}

// ErrInvalidWindow until is not after since.
var ErrInvalidWindow = errors.New("invalid time window")

// Query logs in database, newest first.
func (logDB *DB) Query(q Query) ([]Log, error) {
	if q.Until != 0 && q.Until <= q.Since {
		return nil, fmt.Errorf("%w: %v-%v", ErrInvalidWindow, q.Since, q.Until)
	}
	limit := q.Limit
	if limit == 0 {
		limit = logDB.maxKeys
	}

	var logs []Log
	err := logDB.db.View(func(tx *bolt.Tx) error {
		logsB := tx.Bucket(logsBucket)

		// Walk the recorder index if there is one,
		// keys are the same in both buckets.
		keys := logsB.Cursor()
		if q.Recorder != "" {
			index := tx.Bucket(recordersBucket).Bucket([]byte(q.Recorder))
			if index == nil {
				return nil
			}
			keys = index.Cursor()
		}

		var key []byte
		if q.Until == 0 {
			key, _ = keys.Last()
		} else {
			key = seekBefore(keys, encodeKey(q.Until, 0))
		}
		sinceKey := encodeKey(q.Since, 0)

		for ; key != nil && len(logs) < limit; key, _ = keys.Prev() {
			if bytes.Compare(key, sinceKey) < 0 {
				return nil
			}
			var log Log
			if err := json.Unmarshal(logsB.Get(key), &log); err != nil {
				return fmt.Errorf("unmarshal log: %w", err)
			}
			if q.match(log) {
				logs = append(logs, log)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// seekBefore returns the last key before key.
func seekBefore(c *bolt.Cursor, key []byte) []byte {
	k, _ := c.Seek(key)
	if k == nil {
		k, _ = c.Last()
		return k
	}
	k, _ = c.Prev()
	return k
}

// RecorderLogs number of logs stored for a recorder session.
type RecorderLogs struct {
	ID    string
	Count int
}

// Recorders returns the recorder sessions with stored logs, sorted by id.
func (logDB *DB) Recorders() ([]RecorderLogs, error) {
	var recorders []RecorderLogs
	err := logDB.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordersBucket).ForEach(func(id, _ []byte) error {
			index := tx.Bucket(recordersBucket).Bucket(id)
			recorders = append(recorders, RecorderLogs{
				ID:    string(id),
				Count: index.Stats().KeyN,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recorders, func(i, j int) bool {
		return recorders[i].ID < recorders[j].ID
	})
	return recorders, nil
}

func levelInLevels(level Level, levels []Level) bool {
	if levels == nil {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func stringInStrings(source string, sources []string) bool {
	if sources == nil {
		return true
	}
	for _, src := range sources {
		if src == source {
			return true
		}
	}
	return false
}

func encodeKey(t UnixMicro, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, uint64(t))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}
