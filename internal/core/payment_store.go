package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Single TTL for journal entries
const recordTTL = 72 * time.Hour

const paymentPrefix = "payment_"

// PaymentRecord is the journal entry for one finished collection.
type PaymentRecord struct {
	ID              string    `json:"id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	ReaderID        string    `json:"reader_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// DailySummary aggregates the journal for one local calendar day.
type DailySummary struct {
	Date        string  `json:"date"`
	TotalAmount int64   `json:"total_amount"`
	Processed   int     `json:"processed"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Canceled    int     `json:"canceled"`
	SuccessRate float64 `json:"success_rate"`
}

// PaymentStore journals finished payment collections in badger.
type PaymentStore struct {
	db      *badger.DB
	maxSize int64
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logrus.Entry
}

func NewPaymentStore(dir string, maxSizeGB int, logger *logrus.Entry) (*PaymentStore, error) {
	maxSize := int64(maxSizeGB) * 1024 * 1024 * 1024

	if err := cleanupStaleLock(dir, logger); err != nil {
		logger.Warningf("Failed to cleanup potential stale lock: %v", err)
	}

	opts := badger.DefaultOptions(dir).
		WithValueLogFileSize(1 << 20).
		WithMemTableSize(16 << 20).
		WithNumMemtables(2).
		WithNumCompactors(2).
		WithSyncWrites(true).
		WithBlockCacheSize(16 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	store := &PaymentStore{
		db:      db,
		maxSize: maxSize,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}

	go store.maintenanceWorker()

	return store, nil
}

func recordKey(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%019d_%s", paymentPrefix, createdAt.UnixNano(), id))
}

// RecordPayment stores rec. Keys sort by creation time.
func (s *PaymentStore) RecordPayment(rec PaymentRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("payment record has no id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal payment record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(recordKey(rec.CreatedAt, rec.ID), data).WithTTL(recordTTL))
	})
	if err != nil {
		return fmt.Errorf("failed to store payment record: %w", err)
	}

	s.logger.Debugf("Stored payment record %s (%s %d %s)", rec.ID, rec.Status, rec.Amount, rec.Currency)
	return nil
}

// RecentPayments returns up to limit records, newest first.
func (s *PaymentStore) RecentPayments(limit int) ([]PaymentRecord, error) {
	records := []PaymentRecord{}

	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Reverse = true
		it := txn.NewIterator(itOpts)
		defer it.Close()

		prefix := []byte(paymentPrefix)
		for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix) && len(records) < limit; it.Next() {
			var rec PaymentRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// DailySummary aggregates the records created on day's local date.
func (s *PaymentStore) DailySummary(day time.Time) (DailySummary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	summary := DailySummary{Date: start.Format("2006-01-02")}

	startKey := []byte(fmt.Sprintf("%s%019d", paymentPrefix, start.UnixNano()))
	endKey := fmt.Sprintf("%s%019d", paymentPrefix, end.UnixNano())

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(startKey); it.ValidForPrefix([]byte(paymentPrefix)); it.Next() {
			if string(it.Item().Key()) >= endKey {
				break
			}
			var rec PaymentRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				continue
			}
			summary.Processed++
			switch rec.Status {
			case "succeeded":
				summary.Succeeded++
				summary.TotalAmount += rec.Amount
			case "canceled":
				summary.Canceled++
			default:
				summary.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	if summary.Processed > 0 {
		summary.SuccessRate = float64(summary.Succeeded) / float64(summary.Processed)
	}
	return summary, nil
}

// DrainPayments removes every record and returns what was removed. Meant for
// resetting state between test runs.
func (s *PaymentStore) DrainPayments() ([]PaymentRecord, error) {
	var records []PaymentRecord

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(paymentPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec PaymentRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.DropPrefix([]byte(paymentPrefix)); err != nil {
		return nil, err
	}

	if len(records) > 0 {
		s.logger.Infof("Drained %d payment records", len(records))
	}
	return records, nil
}

// Stats reports the estimated key count and on-disk size.
func (s *PaymentStore) Stats() map[string]interface{} {
	totalKeys, totalSize := s.db.EstimateSize([]byte(paymentPrefix))
	return map[string]interface{}{
		"records": totalKeys,
		"size_mb": totalSize / 1024 / 1024,
		"status":  "ok",
	}
}

func (s *PaymentStore) maintenanceWorker() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runMaintenance()
		}
	}
}

func (s *PaymentStore) runMaintenance() {
	s.cleanupBySize()

	if err := s.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
		s.logger.Errorf("Payment store value log GC failed: %v", err)
	}
}

// cleanupBySize drops the oldest records once the store passes 80% of its
// budget, aiming for 60%.
func (s *PaymentStore) cleanupBySize() {
	currentSize := s.getApproximateSize()

	if currentSize > s.maxSize*70/100 && currentSize < s.maxSize*80/100 {
		s.logger.Warningf("Database at 70%% capacity (%d MB / %d MB)", currentSize/1024/1024, s.maxSize/1024/1024)
	}
	if currentSize < s.maxSize*80/100 {
		return
	}

	s.logger.Errorf("Database at 80%% capacity - starting cleanup (%d MB / %d MB)", currentSize/1024/1024, s.maxSize/1024/1024)
	totalKeys, _ := s.db.EstimateSize([]byte(paymentPrefix))
	toDelete := int(totalKeys * uint64(currentSize-s.maxSize*60/100) / uint64(currentSize))
	var keysToDelete [][]byte

	if err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(paymentPrefix)); it.ValidForPrefix([]byte(paymentPrefix)) && len(keysToDelete) < toDelete; it.Next() {
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}
		return nil
	}); err != nil {
		s.logger.Errorf("Size cleanup scan failed: %v", err)
		return
	}

	if len(keysToDelete) == 0 {
		return
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keysToDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		s.logger.Errorf("Size cleanup delete failed: %v", err)
		return
	}
	s.logger.Infof("Size cleanup: deleted %d oldest records", len(keysToDelete))
}

func (s *PaymentStore) getApproximateSize() int64 {
	lsm, vlog := s.db.Size()
	return lsm + vlog
}

func (s *PaymentStore) Close() error {
	s.cancel()
	return s.db.Close()
}

// cleanupStaleLock removes a badger LOCK file left by an instance that was
// killed; a live holder would make Open fail anyway.
func cleanupStaleLock(dir string, logger *logrus.Entry) error {
	lockFile := filepath.Join(dir, "LOCK")

	if _, err := os.Stat(lockFile); os.IsNotExist(err) {
		return nil
	}

	logger.Infof("Found potential stale lock file, attempting cleanup: %s", lockFile)

	if err := os.Remove(lockFile); err != nil {
		return fmt.Errorf("failed to remove stale lock file: %w", err)
	}

	logger.Infof("Successfully removed stale lock file: %s", lockFile)
	return nil
}
