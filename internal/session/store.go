// Package session guards the persisted auth token: durable storage, claim
// decoding, expiry detection and the expired-session signal the rest of the
// client reacts to.
package session

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var bucketSession = []byte("session")

var tokenKey = []byte("token")

// tokenRecord is the stored shape of the single persisted token.
type tokenRecord struct {
	Token   string `msgpack:"token"`
	SavedAt int64  `msgpack:"savedAt"`
}

func (r *tokenRecord) MarshalBinary() ([]byte, error) {
	type alias tokenRecord
	return msgpack.Marshal((*alias)(r))
}

func (r *tokenRecord) UnmarshalBinary(data []byte) error {
	type alias tokenRecord
	return msgpack.Unmarshal(data, (*alias)(r))
}

// Store persists the auth token across client restarts. It is the only
// durable client-side state.
type Store struct {
	db *bbolt.DB
}

func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open token db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveToken stores the token, replacing any previous one.
func (s *Store) SaveToken(token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		rec := &tokenRecord{
			Token:   token,
			SavedAt: time.Now().Unix(),
		}
		data, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSession).Put(tokenKey, data)
	})
}

// LoadToken returns the stored token, or "" if none is stored.
func (s *Store) LoadToken() (string, error) {
	var token string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSession).Get(tokenKey)
		if data == nil {
			return nil
		}
		var rec tokenRecord
		if err := rec.UnmarshalBinary(data); err != nil {
			return err
		}
		token = rec.Token
		return nil
	})
	return token, err
}

// ClearToken removes the stored token. Clearing an empty store is not an
// error.
func (s *Store) ClearToken() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Delete(tokenKey)
	})
}
