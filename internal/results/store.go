// Package results stores action results in month-partitioned JSON files,
// split into an active and a rejected collection.
package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	idLayout    = "2006-01-02T15-04-05"
	monthLayout = "2006-01"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store reads and writes the result collections under a data directory.
// All mutating calls are serialized on one mutex and every file is replaced
// atomically, so concurrent callers in one process never lose updates.
type Store struct {
	dirs  [2]string
	clock Clock

	mu sync.Mutex
}

// Open creates the collection directories under dataDir if needed.
func Open(dataDir string) (*Store, error) {
	return OpenWithClock(dataDir, realClock{})
}

// OpenWithClock is Open with a custom clock (for testing).
func OpenWithClock(dataDir string, clock Clock) (*Store, error) {
	s := &Store{clock: clock}
	for _, c := range []collection{active, rejected} {
		dir := filepath.Join(dataDir, c.String())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", c, err)
		}
		s.dirs[c] = dir
	}
	return s, nil
}

// CurrentMonth returns the partition key for the store's clock.
func (s *Store) CurrentMonth() string {
	return s.clock.Now().Format(monthLayout)
}

// monthFor derives the partition of a record from its id, falling back to
// the current month for ids that do not carry a timestamp.
func (s *Store) monthFor(id string) string {
	if len(id) >= len(monthLayout) {
		if _, err := time.Parse(monthLayout, id[:len(monthLayout)]); err == nil {
			return id[:len(monthLayout)]
		}
	}
	return s.CurrentMonth()
}

// ValidMonth reports whether m is a YYYY-MM partition name.
func ValidMonth(m string) bool {
	_, err := time.Parse(monthLayout, m)
	return err == nil
}

func (s *Store) path(c collection, month string) string {
	return filepath.Join(s.dirs[c], month+".json")
}

// load returns the month document, or an empty one when the file is missing
// or unreadable.
func (s *Store) load(c collection, month string) monthFile {
	empty := monthFile{Month: month, Records: []Record{}}
	if !ValidMonth(month) {
		return empty
	}
	p := s.path(c, month)
	data, err := os.ReadFile(p)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not read results file, treating as empty", "path", p, "error", err)
		}
		return empty
	}
	var f monthFile
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("malformed results file, treating as empty", "path", p, "error", err)
		return empty
	}
	if f.Month == "" {
		f.Month = month
	}
	if f.Records == nil {
		f.Records = []Record{}
	}
	return f
}

// write replaces the month document via a temp file and rename.
func (s *Store) write(c collection, f monthFile) error {
	if f.Records == nil {
		f.Records = []Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encoding %s/%s: %w", c, f.Month, err)
	}

	dir := s.dirs[c]
	tmp, err := os.CreateTemp(dir, "."+f.Month+"-*.tmp")
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", c, f.Month, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s/%s: %w", c, f.Month, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s/%s: %w", c, f.Month, err)
	}
	if err := os.Rename(tmpPath, s.path(c, f.Month)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s/%s: %w", c, f.Month, err)
	}
	return nil
}

func indexOf(records []Record, id string) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(records []Record, i int) []Record {
	return append(records[:i:i], records[i+1:]...)
}

// Save appends r to the current month's active collection and returns the
// assigned id. ID and Feedback on r are overwritten.
func (s *Store) Save(r Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	month := now.Format(monthLayout)
	act := s.load(active, month)
	rej := s.load(rejected, month)

	base := now.Format(idLayout)
	id := base
	for n := 2; indexOf(act.Records, id) >= 0 || indexOf(rej.Records, id) >= 0; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}

	r.ID = id
	r.Feedback = Feedback{}
	if r.Config == nil {
		r.Config = map[string]any{}
	}
	act.Records = append(act.Records, r)
	if err := s.write(active, act); err != nil {
		return "", err
	}
	return id, nil
}

// Get looks the record up in the active collection, then in the rejected one.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	month := s.monthFor(id)
	for _, c := range []collection{active, rejected} {
		f := s.load(c, month)
		if i := indexOf(f.Records, id); i >= 0 {
			return f.Records[i], true
		}
	}
	return Record{}, false
}

// Feedback returns the feedback of a record together with its status. The
// boolean is false when the record is missing or has no decision yet; use
// the Status to tell a pending comment apart from no feedback at all.
func (s *Store) Feedback(id string) (Feedback, Status, bool) {
	r, ok := s.Get(id)
	if !ok {
		return Feedback{}, StatusNone, false
	}
	st := r.Feedback.Status()
	return r.Feedback, st, r.Feedback.Approved != nil
}

// UpdateFeedback replaces the feedback of a record. Approving a rejected
// record moves it back to the active collection. Unknown ids are a no-op
// and report false.
func (s *Store) UpdateFeedback(id string, fb Feedback) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateFeedback(id, fb)
}

func (s *Store) updateFeedback(id string, fb Feedback) (bool, error) {
	month := s.monthFor(id)

	act := s.load(active, month)
	if i := indexOf(act.Records, id); i >= 0 {
		act.Records[i].Feedback = fb
		return true, s.write(active, act)
	}

	rej := s.load(rejected, month)
	i := indexOf(rej.Records, id)
	if i < 0 {
		return false, nil
	}
	rec := rej.Records[i]
	rec.Feedback = fb
	if fb.Status() != StatusApproved {
		rej.Records[i] = rec
		return true, s.write(rejected, rej)
	}

	// Write the destination first: a failure in between leaves a duplicate,
	// never a lost record.
	act.Records = append(act.Records, rec)
	if err := s.write(active, act); err != nil {
		return true, err
	}
	rej.Records = removeAt(rej.Records, i)
	return true, s.write(rejected, rej)
}

// MoveToRejected moves a record from active to rejected. It reports whether
// a move happened; records already rejected or unknown are left alone.
func (s *Store) MoveToRejected(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveToRejected(id)
}

func (s *Store) moveToRejected(id string) (bool, error) {
	month := s.monthFor(id)

	rej := s.load(rejected, month)
	if indexOf(rej.Records, id) >= 0 {
		return false, nil
	}
	act := s.load(active, month)
	i := indexOf(act.Records, id)
	if i < 0 {
		return false, nil
	}

	rej.Records = append(rej.Records, act.Records[i])
	if err := s.write(rejected, rej); err != nil {
		return false, err
	}
	act.Records = removeAt(act.Records, i)
	if err := s.write(active, act); err != nil {
		return true, err
	}
	return true, nil
}

// RegisterFeedback records an approve or reject decision and moves rejected
// records out of the active collection.
func (s *Store) RegisterFeedback(id string, approved bool, comment string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fb := Feedback{
		Approved: &approved,
		Comment:  comment,
		Date:     s.clock.Now().Format(idLayout),
	}
	found, err := s.updateFeedback(id, fb)
	if err != nil || !found {
		return found, err
	}
	if !approved {
		if _, err := s.moveToRejected(id); err != nil {
			return true, fmt.Errorf("moving %s to rejected: %w", id, err)
		}
	}
	return true, nil
}

// Delete removes a record from whichever collection holds it. Files are
// only rewritten when something was removed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	month := s.monthFor(id)
	for _, c := range []collection{active, rejected} {
		f := s.load(c, month)
		if i := indexOf(f.Records, id); i >= 0 {
			f.Records = removeAt(f.Records, i)
			return true, s.write(c, f)
		}
	}
	return false, nil
}

func (s *Store) list(c collection, month string) []Record {
	if month == "" {
		month = s.CurrentMonth()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(c, month).Records
}

// ListActive returns the active records of month ("" = current) in file order.
func (s *Store) ListActive(month string) []Record {
	return s.list(active, month)
}

// ListRejected returns the rejected records of month ("" = current).
func (s *Store) ListRejected(month string) []Record {
	return s.list(rejected, month)
}

// ListCombined returns approved active records, then rejected records, then
// the remaining active records. Each id appears once.
func (s *Store) ListCombined(month string) []Record {
	if month == "" {
		month = s.CurrentMonth()
	}
	s.mu.Lock()
	act := s.load(active, month).Records
	rej := s.load(rejected, month).Records
	s.mu.Unlock()

	seen := make(map[string]bool, len(act)+len(rej))
	out := make([]Record, 0, len(act)+len(rej))
	add := func(r Record) {
		if seen[r.ID] {
			return
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	for _, r := range act {
		if r.Feedback.Status() == StatusApproved {
			add(r)
		}
	}
	for _, r := range rej {
		add(r)
	}
	for _, r := range act {
		add(r)
	}
	return out
}

// ApprovedTexts returns up to limit approved outputs from the current
// month's active collection, in file order.
func (s *Store) ApprovedTexts(limit int) []string {
	var texts []string
	if limit <= 0 {
		return texts
	}
	for _, r := range s.ListActive("") {
		if r.Feedback.Status() != StatusApproved {
			continue
		}
		texts = append(texts, r.Output)
		if len(texts) >= limit {
			break
		}
	}
	return texts
}

// Stats counts feedback states over the combined records of month.
func (s *Store) Stats(month string) Stats {
	var st Stats
	for _, r := range s.ListCombined(month) {
		st.Total++
		switch r.Feedback.Status() {
		case StatusApproved:
			st.Approved++
		case StatusRejected:
			st.Rejected++
		}
	}
	st.NoFeedback = st.Total - st.Approved - st.Rejected
	if st.Total > 0 {
		st.ApprovalRate = float64(st.Approved) / float64(st.Total) * 100
	}
	return st
}

// Months lists the partitions present in either collection, newest first.
func (s *Store) Months() []string {
	seen := map[string]bool{}
	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			m := strings.TrimSuffix(name, ".json")
			if ValidMonth(m) {
				seen[m] = true
			}
		}
	}
	months := make([]string, 0, len(seen))
	for m := range seen {
		months = append(months, m)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months
}

// SortNewest orders records by id, newest first.
func SortNewest(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ID > records[j].ID
	})
}
