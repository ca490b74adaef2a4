package attacklog

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileStore persists records into a preallocated file of fixed-size slots,
// the way a flash log region works: a monotonically increasing sequence
// number is written with each record, and the slot for sequence n is
// (n-1) mod slotCount, so the file never grows and the oldest record is
// always the one overwritten. A torn write corrupts only its own slot;
// such slots fail JSON validation on load and are skipped.
type FileStore struct {
	mu        sync.Mutex
	file      *os.File
	logger    *logrus.Logger
	slotCount uint32
	nextSeq   uint64
	sync      bool
}

const (
	fileMagic      = 0x48504c31 // "HPL1"
	fileVersion    = 1
	fileHeaderSize = 16
	slotHeaderSize = 12
	slotSize       = 4096
)

// NewFileStore opens or creates the slot file at config.Path. An existing
// file keeps its own slot count even if the config changed; an
// unrecognizable file is reinitialized empty.
func NewFileStore(config FileStoreConfig, logger *logrus.Logger) (*FileStore, error) {
	slots := config.Slots
	if slots < 1 {
		slots = 256
	}

	f, err := os.OpenFile(config.Path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open attack log file: %w", err)
	}

	s := &FileStore{
		file:   f,
		logger: logger,
		sync:   config.Sync,
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat attack log file: %w", err)
	}

	if info.Size() == 0 {
		if err := s.format(uint32(slots)); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := s.readHeader(); err != nil {
		logger.WithError(err).Warn("Attack log file unreadable, reinitializing")
		if err := s.format(uint32(slots)); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := s.scan(); err != nil {
		f.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"path":  config.Path,
		"slots": s.slotCount,
		"seq":   s.nextSeq - 1,
	}).Info("Attack log file opened")

	return s, nil
}

// format writes a fresh header and extends the file to its full slot
// region. The extension is sparse, so an empty log costs little disk.
func (s *FileStore) format(slots uint32) error {
	hdr := make([]byte, fileHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], fileMagic)
	hdr[4] = fileVersion
	binary.LittleEndian.PutUint32(hdr[8:12], slots)
	binary.LittleEndian.PutUint32(hdr[12:16], slotSize)

	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to reset attack log file: %w", err)
	}
	if _, err := s.file.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("failed to write attack log header: %w", err)
	}
	if err := s.file.Truncate(fileHeaderSize + int64(slots)*slotSize); err != nil {
		return fmt.Errorf("failed to size attack log file: %w", err)
	}

	s.slotCount = slots
	s.nextSeq = 1
	return nil
}

func (s *FileStore) readHeader() error {
	hdr := make([]byte, fileHeaderSize)
	if _, err := s.file.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("failed to read attack log header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != fileMagic {
		return fmt.Errorf("bad attack log magic")
	}
	if hdr[4] != fileVersion {
		return fmt.Errorf("unsupported attack log version %d", hdr[4])
	}
	slots := binary.LittleEndian.Uint32(hdr[8:12])
	if slots == 0 {
		return fmt.Errorf("attack log header has zero slots")
	}
	if size := binary.LittleEndian.Uint32(hdr[12:16]); size != slotSize {
		return fmt.Errorf("attack log slot size mismatch: %d", size)
	}
	s.slotCount = slots
	return nil
}

// scan walks every slot to recover the highest sequence number written.
func (s *FileStore) scan() error {
	s.nextSeq = 1
	hdr := make([]byte, slotHeaderSize)
	for i := uint32(0); i < s.slotCount; i++ {
		if _, err := s.file.ReadAt(hdr, s.slotOffset(i)); err != nil {
			return fmt.Errorf("failed to scan attack log slot %d: %w", i, err)
		}
		seq := binary.LittleEndian.Uint64(hdr[0:8])
		if seq >= s.nextSeq {
			s.nextSeq = seq + 1
		}
	}
	return nil
}

func (s *FileStore) slotOffset(idx uint32) int64 {
	return fileHeaderSize + int64(idx)*slotSize
}

// Append writes one record into the slot its sequence number maps to.
func (s *FileStore) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := []byte(FormatJSON(rec))
	if len(payload) > slotSize-slotHeaderSize {
		// Bounded fields keep records well under a slot; guard anyway.
		payload = payload[:slotSize-slotHeaderSize]
	}

	seq := s.nextSeq
	buf := make([]byte, slotHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[slotHeaderSize:], payload)

	idx := uint32((seq - 1) % uint64(s.slotCount))
	if _, err := s.file.WriteAt(buf, s.slotOffset(idx)); err != nil {
		return fmt.Errorf("failed to write attack log slot %d: %w", idx, err)
	}
	if s.sync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync attack log: %w", err)
		}
	}

	s.nextSeq = seq + 1
	return nil
}

// Load returns up to max stored records ordered oldest first. Slots that
// fail validation are skipped rather than failing the whole load.
func (s *FileStore) Load(max int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type slot struct {
		seq uint64
		rec Record
	}
	var slots []slot

	buf := make([]byte, slotSize)
	for i := uint32(0); i < s.slotCount; i++ {
		if _, err := s.file.ReadAt(buf, s.slotOffset(i)); err != nil {
			return nil, fmt.Errorf("failed to read attack log slot %d: %w", i, err)
		}
		seq := binary.LittleEndian.Uint64(buf[0:8])
		if seq == 0 {
			continue
		}
		length := binary.LittleEndian.Uint32(buf[8:12])
		if length == 0 || length > slotSize-slotHeaderSize {
			s.logger.WithField("slot", i).Warn("Skipping attack log slot with bad length")
			continue
		}
		rec, err := parseExport(buf[slotHeaderSize : slotHeaderSize+length])
		if err != nil {
			s.logger.WithField("slot", i).WithError(err).Warn("Skipping corrupt attack log slot")
			continue
		}
		slots = append(slots, slot{seq: seq, rec: rec})
	}

	sort.Slice(slots, func(a, b int) bool { return slots[a].seq < slots[b].seq })
	if max > 0 && len(slots) > max {
		slots = slots[len(slots)-max:]
	}

	out := make([]Record, 0, len(slots))
	for _, sl := range slots {
		out = append(out, sl.rec)
	}
	return out, nil
}

// Clear reinitializes the slot region, discarding all records.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format(s.slotCount)
}

// Close flushes and closes the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sync {
		if err := s.file.Sync(); err != nil {
			s.file.Close()
			return err
		}
	}
	return s.file.Close()
}
