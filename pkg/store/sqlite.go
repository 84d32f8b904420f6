package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yshengliao/swcache/pkg/fetch"
)

// SQLiteOptions configure the SQLite storage.
type SQLiteOptions struct {
	// MaxBytes bounds the total uncompressed body size when positive.
	MaxBytes int64
	// Compress stores large bodies brotli-compressed.
	Compress bool
	// CompressionLevel is the brotli quality, 0-11.
	CompressionLevel int
}

// SQLite is a persistent Storage backed by a SQLite database.
type SQLite struct {
	db   *gorm.DB
	opts SQLiteOptions
}

type cacheRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

func (cacheRecord) TableName() string { return "caches" }

type entryRecord struct {
	ID        uint   `gorm:"primaryKey"`
	CacheName string `gorm:"index:idx_entries_lookup;not null"`
	URL       string `gorm:"index:idx_entries_lookup;not null"`
	// URLNoSearch supports ignoreSearch lookups.
	URLNoSearch string `gorm:"index;not null"`

	Method        string
	RequestHeader string
	Mode          string
	Credentials   string

	Status         int
	StatusText     string
	ResponseHeader string
	Body           []byte
	BodyEncoding   string
	Size           int64
	ResponseURL    string
	Redirected     bool
	Type           string
}

func (entryRecord) TableName() string { return "entries" }

// OpenSQLite opens (or creates) the database at dsn. Use ":memory:" for a
// private in-memory database.
func OpenSQLite(dsn string, opts SQLiteOptions) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	_ = db.Exec("PRAGMA journal_mode=WAL").Error

	if err := db.AutoMigrate(&cacheRecord{}, &entryRecord{}); err != nil {
		return nil, fmt.Errorf("migrating cache database: %w", err)
	}
	if opts.CompressionLevel <= 0 {
		opts.CompressionLevel = brotli.DefaultCompression
	}
	return &SQLite{db: db, opts: opts}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Open implements Storage.
func (s *SQLite) Open(ctx context.Context, name string) (Cache, error) {
	rec := cacheRecord{Name: name}
	if err := s.db.WithContext(ctx).Where("name = ?", name).FirstOrCreate(&rec).Error; err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &sqliteCache{s: s, name: name}, nil
}

// Has implements Storage.
func (s *SQLite) Has(ctx context.Context, name string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&cacheRecord{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete implements Storage.
func (s *SQLite) Delete(ctx context.Context, name string) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("name = ?", name).Delete(&cacheRecord{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return tx.Where("cache_name = ?", name).Delete(&entryRecord{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("delete cache %q: %w", name, err)
	}
	return deleted, nil
}

// Keys implements Storage.
func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&cacheRecord{}).Order("id").Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}

// Match implements Storage.
func (s *SQLite) Match(ctx context.Context, req *fetch.Request, opts MatchOptions) (*fetch.Response, error) {
	names := []string{opts.CacheName}
	if opts.CacheName == "" {
		var err error
		if names, err = s.Keys(ctx); err != nil {
			return nil, err
		}
	}
	for _, name := range names {
		c := &sqliteCache{s: s, name: name}
		resp, err := c.Match(ctx, req, opts)
		if err != nil || resp != nil {
			return resp, err
		}
	}
	return nil, nil
}

type sqliteCache struct {
	s    *SQLite
	name string
}

func (c *sqliteCache) candidates(tx *gorm.DB, req *fetch.Request, opts MatchOptions) ([]entryRecord, error) {
	q := tx.Where("cache_name = ?", c.name)
	if opts.IgnoreSearch {
		q = q.Where("url_no_search = ?", stripSearch(req.Href()))
	} else {
		q = q.Where("url = ?", req.Href())
	}
	var recs []entryRecord
	if err := q.Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *sqliteCache) Match(ctx context.Context, req *fetch.Request, opts MatchOptions) (*fetch.Response, error) {
	recs, err := c.candidates(c.s.db.WithContext(ctx), req, opts)
	if err != nil {
		return nil, fmt.Errorf("match %s in %q: %w", req.Href(), c.name, err)
	}
	for i := range recs {
		storedReq, resp, err := recs[i].decode()
		if err != nil {
			return nil, err
		}
		if matches(storedReq, resp, req, opts) {
			return resp, nil
		}
	}
	return nil, nil
}

func (c *sqliteCache) Put(ctx context.Context, req *fetch.Request, resp *fetch.Response) error {
	if err := validatePut(req, resp); err != nil {
		return err
	}
	rec, err := c.encode(req, resp)
	if err != nil {
		return err
	}
	return c.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cache_name = ? AND url = ?", c.name, rec.URL).Delete(&entryRecord{}).Error; err != nil {
			return err
		}
		if max := c.s.opts.MaxBytes; max > 0 {
			var used int64
			if err := tx.Model(&entryRecord{}).Select("COALESCE(SUM(size), 0)").Scan(&used).Error; err != nil {
				return err
			}
			if used+rec.Size > max {
				return ErrQuotaExceeded
			}
		}
		if err := tx.FirstOrCreate(&cacheRecord{}, cacheRecord{Name: c.name}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
}

func (c *sqliteCache) Delete(ctx context.Context, req *fetch.Request, opts MatchOptions) (bool, error) {
	var found bool
	err := c.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recs, err := c.candidates(tx, req, opts)
		if err != nil {
			return err
		}
		var ids []uint
		for i := range recs {
			storedReq, resp, err := recs[i].decode()
			if err != nil {
				return err
			}
			if matches(storedReq, resp, req, opts) {
				ids = append(ids, recs[i].ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		found = true
		return tx.Delete(&entryRecord{}, ids).Error
	})
	if err != nil {
		return false, fmt.Errorf("delete %s from %q: %w", req.Href(), c.name, err)
	}
	return found, nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]*fetch.Request, error) {
	var recs []entryRecord
	err := c.s.db.WithContext(ctx).
		Select("id", "url", "method", "request_header", "mode", "credentials").
		Where("cache_name = ?", c.name).Order("id").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("keys of %q: %w", c.name, err)
	}
	keys := make([]*fetch.Request, 0, len(recs))
	for i := range recs {
		req, err := recs[i].request()
		if err != nil {
			return nil, err
		}
		keys = append(keys, req)
	}
	return keys, nil
}

func (c *sqliteCache) encode(req *fetch.Request, resp *fetch.Response) (*entryRecord, error) {
	stored := storedRequest(req)
	reqHeader, err := json.Marshal(stored.Header)
	if err != nil {
		return nil, fmt.Errorf("encode request headers: %w", err)
	}
	respHeader, err := json.Marshal(resp.Header)
	if err != nil {
		return nil, fmt.Errorf("encode response headers: %w", err)
	}
	body, encoding := resp.Body, encodingIdentity
	if c.s.opts.Compress {
		if body, encoding, err = compressBody(resp.Body, c.s.opts.CompressionLevel); err != nil {
			return nil, err
		}
	}
	href := stored.Href()
	return &entryRecord{
		CacheName:      c.name,
		URL:            href,
		URLNoSearch:    stripSearch(href),
		Method:         stored.Method,
		RequestHeader:  string(reqHeader),
		Mode:           stored.Mode,
		Credentials:    stored.Credentials,
		Status:         resp.Status,
		StatusText:     resp.StatusText,
		ResponseHeader: string(respHeader),
		Body:           body,
		BodyEncoding:   encoding,
		Size:           resp.Size(),
		ResponseURL:    resp.URL,
		Redirected:     resp.Redirected,
		Type:           resp.Type,
	}, nil
}

func (r *entryRecord) request() (*fetch.Request, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("decode stored url: %w", err)
	}
	req := fetch.NewRequestURL(u)
	req.Method = r.Method
	req.Mode = r.Mode
	req.Credentials = r.Credentials
	if r.RequestHeader != "" {
		if err := json.Unmarshal([]byte(r.RequestHeader), &req.Header); err != nil {
			return nil, fmt.Errorf("decode stored request headers: %w", err)
		}
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	return req, nil
}

func (r *entryRecord) decode() (*fetch.Request, *fetch.Response, error) {
	req, err := r.request()
	if err != nil {
		return nil, nil, err
	}
	body, err := decompressBody(r.Body, r.BodyEncoding)
	if err != nil {
		return nil, nil, err
	}
	resp := &fetch.Response{
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     make(http.Header),
		Body:       body,
		URL:        r.ResponseURL,
		Redirected: r.Redirected,
		Type:       r.Type,
	}
	if r.ResponseHeader != "" {
		if err := json.Unmarshal([]byte(r.ResponseHeader), &resp.Header); err != nil {
			return nil, nil, fmt.Errorf("decode stored response headers: %w", err)
		}
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	return req, resp, nil
}

var _ Storage = (*SQLite)(nil)
var _ Storage = (*Memory)(nil)

// IsQuotaExceeded reports whether err is a quota error.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
