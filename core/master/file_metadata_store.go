package master

import (
	"sort"
	"strings"

	"github.com/pyropy/gfs/core/model"
)

// FileMetadataStore holds the namespace. It is not synchronized, callers hold Master.mu.
type FileMetadataStore struct {
	Files map[model.FilePath]*model.FileMetadata
}

func NewFileMetadataStore() *FileMetadataStore {
	return &FileMetadataStore{
		Files: map[model.FilePath]*model.FileMetadata{},
	}
}

func (f *FileMetadataStore) Get(filePath string) (*model.FileMetadata, bool) {
	file, exists := f.Files[filePath]
	return file, exists
}

func (f *FileMetadataStore) CheckFileExists(filePath model.FilePath) bool {
	_, fileExists := f.Files[filePath]
	return fileExists
}

func (f *FileMetadataStore) AddNewFileMetadata(metadata model.FileMetadata) {
	f.Files[metadata.Path] = &metadata
}

// List returns the paths starting with prefix in lexicographic order.
func (f *FileMetadataStore) List(prefix string) []string {
	paths := make([]string, 0)
	for path := range f.Files {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}

	sort.Strings(paths)
	return paths
}
