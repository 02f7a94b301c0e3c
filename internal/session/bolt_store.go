package session

import (
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	bolt "go.etcd.io/bbolt"
)

const defaultBucket = "sessions"

// BoltStore is a sessions.Store keeping session values in a bbolt database.
// Only the signed session id travels in the cookie.
type BoltStore struct {
	Codecs  []securecookie.Codec
	Options *sessions.Options

	db        *bolt.DB
	bucket    []byte
	now       func() time.Time
	closeOnce sync.Once
}

type boltRecord struct {
	Data      string    `json:"data"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string, keyPairs ...[]byte) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	store, err := NewBoltStore(db, keyPairs...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewBoltStore uses an already opened database.
func NewBoltStore(db *bolt.DB, keyPairs ...[]byte) (*BoltStore, error) {
	bucket := []byte(defaultBucket)
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}

	return &BoltStore{
		Codecs: unlimitedCodecs(keyPairs...),
		Options: &sessions.Options{
			Path:   "/",
			MaxAge: 86400,
		},
		db:     db,
		bucket: bucket,
		now:    time.Now,
	}, nil
}

// MaxAge sets the lifetime of both the cookie and the stored record.
func (s *BoltStore) MaxAge(age int) {
	s.Options.MaxAge = age
	for _, codec := range s.Codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}

// Get returns the session cached in the request registry, loading it on first use.
func (s *BoltStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New returns the stored session for the request cookie, or a fresh one.
func (s *BoltStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}

	if err := securecookie.DecodeMulti(name, cookie.Value, &session.ID, s.Codecs...); err != nil {
		session.ID = ""
		return session, err
	}

	err = s.load(session)
	switch {
	case err == nil:
		session.IsNew = false
		return session, nil
	case errors.Is(err, errSessionNotFound):
		return session, nil
	default:
		return session, err
	}
}

// Save writes the session record and the id cookie. A negative MaxAge deletes both.
func (s *BoltStore) Save(_ *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options.MaxAge < 0 {
		if err := s.delete(session.ID); err != nil {
			return err
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
	}

	if err := s.save(session); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return fmt.Errorf("failed to encode session cookie: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// Close releases the database.
func (s *BoltStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

func (s *BoltStore) save(session *sessions.Session) error {
	encoded, err := securecookie.EncodeMulti(session.Name(), session.Values, s.Codecs...)
	if err != nil {
		return fmt.Errorf("failed to encode session values: %w", err)
	}

	record, err := json.Marshal(boltRecord{
		Data:      encoded,
		ExpiresAt: s.now().Add(time.Duration(session.Options.MaxAge) * time.Second),
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(session.ID), record)
	})
}

func (s *BoltStore) load(session *sessions.Session) error {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(s.bucket).Get([]byte(session.ID)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if raw == nil {
		return errSessionNotFound
	}

	var record boltRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return fmt.Errorf("failed to decode session record: %w", err)
	}

	if !record.ExpiresAt.IsZero() && s.now().After(record.ExpiresAt) {
		if err := s.delete(session.ID); err != nil {
			return err
		}
		return errSessionNotFound
	}

	return securecookie.DecodeMulti(session.Name(), record.Data, &session.Values, s.Codecs...)
}

func (s *BoltStore) delete(id string) error {
	if id == "" {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(id))
	})
}
