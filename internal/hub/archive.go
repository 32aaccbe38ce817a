package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/jaakkos/deaddrop/internal/policy"
	"github.com/jaakkos/deaddrop/internal/store"
)

// ArchiveIndex is the JSON summary written next to each archived room
// database.
type ArchiveIndex struct {
	RoomName     string         `json:"room_name"`
	ArchivedAt   time.Time      `json:"archived_at"`
	Agents       []IndexAgent   `json:"agents"`
	MessageCount int            `json:"message_count"`
	Tasks        []IndexTask    `json:"tasks"`
	DateRange    IndexDateRange `json:"date_range"`
}

// IndexAgent is one roster entry in the archive index.
type IndexAgent struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// IndexTask is one task summary in the archive index.
type IndexTask struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// IndexDateRange is the message timestamp span.
type IndexDateRange struct {
	First time.Time `json:"first,omitempty"`
	Last  time.Time `json:"last,omitempty"`
}

// Archiver compresses closed rooms' store files into the archive directory
// with a JSON index alongside.
type Archiver struct {
	cfg    *policy.HubConfig
	logger *log.Logger
}

// NewArchiver creates an archiver.
func NewArchiver(cfg *policy.HubConfig, logger *log.Logger) *Archiver {
	return &Archiver{cfg: cfg, logger: logger}
}

// Archive gzips the room's database to <room>_<YYYYMMDD_HHMMSS>.db.gz and
// writes the sibling index. Returns the index path.
func (a *Archiver) Archive(room Room) (string, error) {
	if err := os.MkdirAll(a.cfg.ArchiveDir, 0o755); err != nil {
		return "", fmt.Errorf("archive dir: %w", err)
	}
	index, err := a.buildIndex(room)
	if err != nil {
		return "", err
	}

	stamp := index.ArchivedAt.Format("20060102_150405")
	base := fmt.Sprintf("%s_%s", room.Name, stamp)
	gzPath := filepath.Join(a.cfg.ArchiveDir, base+".db.gz")
	if err := gzipFile(room.DBPath, gzPath); err != nil {
		return "", err
	}

	indexPath := filepath.Join(a.cfg.ArchiveDir, base+".index.json")
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive index: %w", err)
	}
	if err := os.WriteFile(indexPath, data, 0o644); err != nil {
		return "", fmt.Errorf("archive index: %w", err)
	}
	a.logger.Printf("Archived room %q: %s (%d message(s), %d task(s))",
		room.Name, gzPath, index.MessageCount, len(index.Tasks))
	return indexPath, nil
}

// buildIndex opens the room store read-only and summarizes it.
func (a *Archiver) buildIndex(room Room) (ArchiveIndex, error) {
	st, err := store.Open(room.DBPath)
	if err != nil {
		return ArchiveIndex{}, fmt.Errorf("archive open store: %w", err)
	}
	defer st.Close()

	index := ArchiveIndex{
		RoomName:   room.Name,
		ArchivedAt: time.Now(),
		Agents:     []IndexAgent{},
		Tasks:      []IndexTask{},
	}
	agents, err := st.Agents()
	if err != nil {
		return ArchiveIndex{}, err
	}
	for _, agent := range agents {
		index.Agents = append(index.Agents, IndexAgent{Name: agent.Name, Role: agent.Role})
	}
	tasks, err := st.ListTasks("", "", "")
	if err != nil {
		return ArchiveIndex{}, err
	}
	for _, t := range tasks {
		index.Tasks = append(index.Tasks, IndexTask{ID: t.ID, Title: t.Title, Status: t.Status})
	}
	count, first, last, err := st.MessageStats()
	if err != nil {
		return ArchiveIndex{}, err
	}
	index.MessageCount = count
	index.DateRange = IndexDateRange{First: first, Last: last}
	return index, nil
}

// gzipFile compresses src to dst at the best compression level.
func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("archive read %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("archive create %s: %w", dst, err)
	}
	defer out.Close()

	gw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("archive gzip: %w", err)
	}
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		return fmt.Errorf("archive compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("archive flush: %w", err)
	}
	return out.Sync()
}
