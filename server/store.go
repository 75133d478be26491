package server

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileRecord is the metadata the sandbox keeps for a stored file.
type FileRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Transform   bool      `json:"transform"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Metrics is served by the metrics endpoint.
type Metrics struct {
	TotalFiles int   `json:"totalFiles"`
	TotalBytes int64 `json:"totalBytes"`
	Uploads    int   `json:"uploads"`
	Updates    int   `json:"updates"`
	Deletes    int   `json:"deletes"`
	Downloads  int   `json:"downloads"`
}

type storedFile struct {
	record FileRecord
	data   []byte
}

// upload is a file received in a multipart request.
type upload struct {
	filename    string
	contentType string
	data        []byte
}

type store struct {
	mu    sync.Mutex
	files map[string]*storedFile

	uploads, updates, deletes, downloads int
}

func newStore() *store {
	return &store{
		files: make(map[string]*storedFile),
	}
}

func (s *store) add(u upload, name string, transform bool) FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	id := uuid.NewString()
	if name == "" {
		name = u.filename
	}
	f := &storedFile{
		record: FileRecord{
			ID:          id,
			Name:        name,
			Filename:    u.filename,
			ContentType: u.contentType,
			Size:        int64(len(u.data)),
			Transform:   transform,
			URL:         filesPrefix + "/" + id,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		data: u.data,
	}
	s.files[id] = f
	s.uploads++
	return f.record
}

func (s *store) replace(id string, u upload, name string, transform *bool) (FileRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return FileRecord{}, false
	}
	f.data = u.data
	f.record.Filename = u.filename
	f.record.ContentType = u.contentType
	f.record.Size = int64(len(u.data))
	f.record.UpdatedAt = time.Now().UTC()
	if name != "" {
		f.record.Name = name
	}
	if transform != nil {
		f.record.Transform = *transform
	}
	s.updates++
	return f.record, true
}

func (s *store) get(id string) (FileRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[id]; ok {
		return f.record, true
	}
	return FileRecord{}, false
}

func (s *store) content(id string) (FileRecord, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[id]; ok {
		s.downloads++
		return f.record, f.data, true
	}
	return FileRecord{}, nil, false
}

func (s *store) list() []FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]FileRecord, 0, len(s.files))
	for _, f := range s.files {
		result = append(result, f.record)
	}
	slices.SortFunc(result, func(a, b FileRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

func (s *store) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return false
	}
	delete(s.files, id)
	s.deletes++
	return true
}

func (s *store) metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		TotalFiles: len(s.files),
		Uploads:    s.uploads,
		Updates:    s.updates,
		Deletes:    s.deletes,
		Downloads:  s.downloads,
	}
	for _, f := range s.files {
		m.TotalBytes += f.record.Size
	}
	return m
}
