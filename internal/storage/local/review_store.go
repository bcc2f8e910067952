package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/drill/internal/domain"
)

const learnersCollection = "learners"

// learnerDocument is everything stored for one learner
type learnerDocument struct {
	Items    map[string]domain.ReviewItem `json:"items"`
	Logs     []domain.ReviewLog           `json:"logs"`
	Weakness []domain.WeaknessScore       `json:"weakness"`
}

func newLearnerDocument() *learnerDocument {
	return &learnerDocument{Items: make(map[string]domain.ReviewItem)}
}

// ReviewStore keeps review state in memory and, when backed by a Store,
// writes the learner's document after every change.
type ReviewStore struct {
	files *Store // nil keeps everything in memory

	mu       sync.Mutex
	learners map[string]*learnerDocument
}

// NewReviewStore creates a review store persisted under basePath
func NewReviewStore(basePath string) (*ReviewStore, error) {
	files, err := NewStore(basePath)
	if err != nil {
		return nil, err
	}
	return &ReviewStore{files: files, learners: make(map[string]*learnerDocument)}, nil
}

// NewMemoryStore creates a review store that never touches the disk
func NewMemoryStore() *ReviewStore {
	return &ReviewStore{learners: make(map[string]*learnerDocument)}
}

// learner returns the cached document, loading it on first use. Callers hold mu.
func (s *ReviewStore) learner(learnerID string) (*learnerDocument, error) {
	if doc, ok := s.learners[learnerID]; ok {
		return doc, nil
	}

	doc := newLearnerDocument()
	if s.files != nil {
		err := s.files.Load(learnersCollection, learnerID, doc)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("load learner %s: %w", learnerID, err)
		}
		if doc.Items == nil {
			doc.Items = make(map[string]domain.ReviewItem)
		}
	}
	s.learners[learnerID] = doc
	return doc, nil
}

// commit persists a learner document. On failure the cached copy is dropped
// so the next read reloads the last persisted state.
func (s *ReviewStore) commit(learnerID string, doc *learnerDocument) error {
	if s.files == nil {
		return nil
	}
	if err := s.files.Save(learnersCollection, learnerID, doc); err != nil {
		delete(s.learners, learnerID)
		return fmt.Errorf("save learner %s: %w", learnerID, err)
	}
	return nil
}

func (s *ReviewStore) GetItem(ctx context.Context, learnerID, itemID string) (*domain.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.learner(learnerID)
	if err != nil {
		return nil, err
	}
	item, ok := doc.Items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	c := item.Clone()
	return &c, nil
}

func (s *ReviewStore) ListItems(ctx context.Context, learnerID string) ([]domain.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.learner(learnerID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.ReviewItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ItemID < items[j].ItemID
	})
	return items, nil
}

func (s *ReviewStore) CreateItem(ctx context.Context, item *domain.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.learner(item.LearnerID)
	if err != nil {
		return err
	}
	if _, ok := doc.Items[item.ItemID]; ok {
		return domain.ErrItemExists
	}

	item.Version = 1
	doc.Items[item.ItemID] = item.Clone()
	return s.commit(item.LearnerID, doc)
}

func (s *ReviewStore) SaveReview(ctx context.Context, item *domain.ReviewItem, expectedVersion int64, log domain.ReviewLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	stored, err := s.learner(item.LearnerID)
	if err != nil {
		return err
	}
	for _, existing := range stored.Logs {
		if existing.ID == log.ID {
			return domain.ErrDuplicateReview
		}
	}

	doc, err := s.update(item, expectedVersion)
	if err != nil {
		return err
	}
	doc.Logs = append(doc.Logs, log)
	return s.commit(item.LearnerID, doc)
}

func (s *ReviewStore) UpdateItem(ctx context.Context, item *domain.ReviewItem, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.update(item, expectedVersion)
	if err != nil {
		return err
	}
	return s.commit(item.LearnerID, doc)
}

// update applies the version check and stores item in the cached document.
func (s *ReviewStore) update(item *domain.ReviewItem, expectedVersion int64) (*learnerDocument, error) {
	doc, err := s.learner(item.LearnerID)
	if err != nil {
		return nil, err
	}
	stored, ok := doc.Items[item.ItemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	if stored.Version != expectedVersion {
		return nil, domain.ErrConflict
	}

	item.Version = expectedVersion + 1
	item.CreatedAt = stored.CreatedAt
	doc.Items[item.ItemID] = item.Clone()
	return doc, nil
}

func (s *ReviewStore) ListLogs(ctx context.Context, learnerID, itemID string, limit int) ([]domain.ReviewLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.learner(learnerID)
	if err != nil {
		return nil, err
	}

	logs := []domain.ReviewLog{}
	for i := len(doc.Logs) - 1; i >= 0; i-- {
		if itemID != "" && doc.Logs[i].ItemID != itemID {
			continue
		}
		logs = append(logs, doc.Logs[i])
		if limit > 0 && len(logs) == limit {
			break
		}
	}
	return logs, nil
}

func (s *ReviewStore) ListWeakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.learner(learnerID)
	if err != nil {
		return nil, err
	}
	return append([]domain.WeaknessScore{}, doc.Weakness...), nil
}

func (s *ReviewStore) SaveWeakness(ctx context.Context, learnerID string, scores []domain.WeaknessScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.learner(learnerID)
	if err != nil {
		return err
	}

	doc.Weakness = append([]domain.WeaknessScore{}, scores...)
	sort.SliceStable(doc.Weakness, func(i, j int) bool {
		if doc.Weakness[i].Score != doc.Weakness[j].Score {
			return doc.Weakness[i].Score > doc.Weakness[j].Score
		}
		return doc.Weakness[i].Category < doc.Weakness[j].Category
	})
	return s.commit(learnerID, doc)
}

// Learners lists every learner with a stored document
func (s *ReviewStore) Learners() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var ids []string
	if s.files != nil {
		stored, err := s.files.List(learnersCollection)
		if err != nil {
			return nil, err
		}
		for _, id := range stored {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range s.learners {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
