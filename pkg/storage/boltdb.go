package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTargets     = []byte("targets")
	bucketTargetNames = []byte("target_names") // name -> target ID
	bucketIssues      = []byte("issues")
	bucketComments    = []byte("comments")

	// Secondary indexes, keyed "<parent id>/<child id>" with empty values
	bucketTargetIssues  = []byte("target_issues")
	bucketIssueComments = []byte("issue_comments")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) ctt.db under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "ctt.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTargets, bucketTargetNames, bucketIssues, bucketComments} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return ensureIndexes(tx)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is readable
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketTargets) == nil {
			return fmt.Errorf("bucket %s missing", bucketTargets)
		}
		return nil
	})
}

// ensureIndexes creates missing index buckets, rebuilding them from the
// primary buckets for databases written before the index existed
func ensureIndexes(tx *bolt.Tx) error {
	if tx.Bucket(bucketTargetIssues) == nil {
		idx, err := tx.CreateBucket(bucketTargetIssues)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketTargetIssues, err)
		}
		err = tx.Bucket(bucketIssues).ForEach(func(k, v []byte) error {
			var issue types.Issue
			if err := json.Unmarshal(v, &issue); err != nil {
				return err
			}
			return idx.Put(indexKey(issue.TargetID, issue.ID), []byte{})
		})
		if err != nil {
			return fmt.Errorf("failed to index issues: %w", err)
		}
	}
	if tx.Bucket(bucketIssueComments) == nil {
		idx, err := tx.CreateBucket(bucketIssueComments)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketIssueComments, err)
		}
		err = tx.Bucket(bucketComments).ForEach(func(k, v []byte) error {
			var comment types.Comment
			if err := json.Unmarshal(v, &comment); err != nil {
				return err
			}
			return idx.Put(indexKey(comment.IssueID, comment.ID), []byte{})
		})
		if err != nil {
			return fmt.Errorf("failed to index comments: %w", err)
		}
	}
	return nil
}

func indexKey(parent, child string) []byte {
	return []byte(parent + "/" + child)
}

// scanIndex calls fn with every child ID indexed under parent
func scanIndex(idx *bolt.Bucket, parent string, fn func(child string) error) error {
	prefix := indexKey(parent, "")
	c := idx.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if err := fn(string(k[len(prefix):])); err != nil {
			return err
		}
	}
	return nil
}

func put(b *bolt.Bucket, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func get(b *bolt.Bucket, id string, v interface{}) error {
	data := b.Get([]byte(id))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// Target operations

// CreateTarget stores a new target, assigning an ID if empty.
// Returns ErrConflict if the name is already taken.
func (s *BoltStore) CreateTarget(ctx context.Context, target *types.Target) error {
	if target.ID == "" {
		target.ID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketTargetNames)
		if names.Get([]byte(target.Name)) != nil {
			return fmt.Errorf("target %s: %w", target.Name, ErrConflict)
		}
		if err := names.Put([]byte(target.Name), []byte(target.ID)); err != nil {
			return err
		}
		return put(tx.Bucket(bucketTargets), target.ID, target)
	})
}

func (s *BoltStore) GetTarget(ctx context.Context, id string) (*types.Target, error) {
	var target types.Target
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketTargets), id, &target)
	})
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", id, err)
	}
	return &target, nil
}

func (s *BoltStore) GetTargetByName(ctx context.Context, name string) (*types.Target, error) {
	var target types.Target
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTargetNames).Get([]byte(name))
		if id == nil {
			return ErrNotFound
		}
		return get(tx.Bucket(bucketTargets), string(id), &target)
	})
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", name, err)
	}
	return &target, nil
}

// ListTargets returns all targets sorted by name
func (s *BoltStore) ListTargets(ctx context.Context) ([]*types.Target, error) {
	var targets []*types.Target
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTargets).ForEach(func(k, v []byte) error {
			var target types.Target
			if err := json.Unmarshal(v, &target); err != nil {
				return err
			}
			targets = append(targets, &target)
			return nil
		})
	})
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets, err
}

func (s *BoltStore) UpdateTargetStatus(ctx context.Context, id string, status types.TargetStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)
		var target types.Target
		if err := get(b, id, &target); err != nil {
			return fmt.Errorf("target %s: %w", id, err)
		}
		target.Status = status
		return put(b, id, &target)
	})
}

// Issue operations

func (s *BoltStore) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketTargets).Get([]byte(issue.TargetID)) == nil {
			return fmt.Errorf("target %s: %w", issue.TargetID, ErrNotFound)
		}
		if err := tx.Bucket(bucketTargetIssues).Put(indexKey(issue.TargetID, issue.ID), []byte{}); err != nil {
			return err
		}
		return put(tx.Bucket(bucketIssues), issue.ID, issue)
	})
}

func (s *BoltStore) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	var issue types.Issue
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketIssues), id, &issue)
	})
	if err != nil {
		return nil, fmt.Errorf("issue %s: %w", id, err)
	}
	return &issue, nil
}

// ListIssues returns matching issues, oldest first. Filtering by target
// reads only that target's issues.
func (s *BoltStore) ListIssues(ctx context.Context, filter IssueFilter) ([]*types.Issue, error) {
	var issues []*types.Issue
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIssues)
		add := func(v []byte) error {
			var issue types.Issue
			if err := json.Unmarshal(v, &issue); err != nil {
				return err
			}
			if filter.matches(&issue) {
				issues = append(issues, &issue)
			}
			return nil
		}

		if filter.TargetID == "" {
			return b.ForEach(func(k, v []byte) error { return add(v) })
		}
		return scanIndex(tx.Bucket(bucketTargetIssues), filter.TargetID, func(id string) error {
			v := b.Get([]byte(id))
			if v == nil {
				return nil
			}
			return add(v)
		})
	})
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].CreatedAt.Before(issues[j].CreatedAt) })
	return issues, err
}

func (s *BoltStore) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIssues)
		var old types.Issue
		if err := get(b, issue.ID, &old); err != nil {
			return fmt.Errorf("issue %s: %w", issue.ID, err)
		}
		if old.TargetID != issue.TargetID {
			idx := tx.Bucket(bucketTargetIssues)
			if err := idx.Delete(indexKey(old.TargetID, issue.ID)); err != nil {
				return err
			}
			if err := idx.Put(indexKey(issue.TargetID, issue.ID), []byte{}); err != nil {
				return err
			}
		}
		return put(b, issue.ID, issue)
	})
}

// Comment operations

func (s *BoltStore) CreateComment(ctx context.Context, comment *types.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketIssues).Get([]byte(comment.IssueID)) == nil {
			return fmt.Errorf("issue %s: %w", comment.IssueID, ErrNotFound)
		}
		if err := tx.Bucket(bucketIssueComments).Put(indexKey(comment.IssueID, comment.ID), []byte{}); err != nil {
			return err
		}
		return put(tx.Bucket(bucketComments), comment.ID, comment)
	})
}

// ListComments returns an issue's comments, oldest first
func (s *BoltStore) ListComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	var comments []*types.Comment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComments)
		return scanIndex(tx.Bucket(bucketIssueComments), issueID, func(id string) error {
			var comment types.Comment
			if err := get(b, id, &comment); err != nil {
				return err
			}
			comments = append(comments, &comment)
			return nil
		})
	})
	sort.SliceStable(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
	return comments, err
}
