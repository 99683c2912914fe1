package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices = []byte("devices")
	bucketAliases = []byte("aliases")
	bucketServer  = []byte("server")
	keyServerInfo = []byte("info")
)

// BoltStore implements Store on a single bbolt file. Values are JSON.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketAliases, bucketServer} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// deviceKey is big-endian so cursor order matches index order.
func deviceKey(index uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, index)
}

func bucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", name)
	}
	return b, nil
}

func putJSON(tx *bolt.Tx, name, key []byte, v interface{}) error {
	b, err := bucket(tx, name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// getJSON decodes the value at key into v, or reports ErrNotFound.
func getJSON(tx *bolt.Tx, name, key []byte, v interface{}) error {
	b, err := bucket(tx, name)
	if err != nil {
		return err
	}
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketDevices, deviceKey(dev.Index), dev)
	})
}

func (s *BoltStore) GetDevice(index uint32) (*Device, error) {
	var dev Device
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketDevices, deviceKey(index), &dev)
	})
	if err != nil {
		return nil, fmt.Errorf("device %d: %w", index, err)
	}
	return &dev, nil
}

func (s *BoltStore) UpdateDevice(index uint32, fn func(dev *Device) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		key := deviceKey(index)
		var dev Device
		if err := getJSON(tx, bucketDevices, key, &dev); err != nil {
			return err
		}
		if err := fn(&dev); err != nil {
			return err
		}
		dev.Index = index
		return putJSON(tx, bucketDevices, key, &dev)
	})
	if err != nil {
		return fmt.Errorf("device %d: %w", index, err)
	}
	return nil
}

func (s *BoltStore) DeleteDevice(index uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketDevices)
		if err != nil {
			return err
		}
		return b.Delete(deviceKey(index))
	})
}

// ListDevices returns every snapshot in index order.
func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketDevices)
		if err != nil {
			return err
		}
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return fmt.Errorf("device %d: %w", binary.BigEndian.Uint32(k), err)
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) SetAlias(identity, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketAliases)
		if err != nil {
			return err
		}
		if name == "" {
			return b.Delete([]byte(identity))
		}
		return b.Put([]byte(identity), []byte(name))
	})
}

func (s *BoltStore) Alias(identity string) (string, error) {
	var name string
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketAliases)
		if err != nil {
			return err
		}
		v := b.Get([]byte(identity))
		if v == nil {
			return ErrNotFound
		}
		name = string(v)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("alias: %w", err)
	}
	return name, nil
}

func (s *BoltStore) SaveServerInfo(info *ServerInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketServer, keyServerInfo, info)
	})
}

func (s *BoltStore) GetServerInfo() (*ServerInfo, error) {
	var info ServerInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketServer, keyServerInfo, &info)
	})
	if err != nil {
		return nil, fmt.Errorf("server info: %w", err)
	}
	return &info, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
