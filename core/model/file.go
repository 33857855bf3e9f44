package model

import "time"

type FilePath = string

type FileMetadata struct {
	Path      FilePath
	Length    int
	Chunks    map[int]ChunkHandle // chunk index -> chunk handle
	CreatedAt time.Time
}

func NewFileMetadata(path string, createdAt time.Time) FileMetadata {
	return FileMetadata{
		Path:      path,
		Chunks:    map[int]ChunkHandle{},
		CreatedAt: createdAt,
	}
}

// LastChunkIndex returns the highest mapped chunk index.
func (f FileMetadata) LastChunkIndex() (int, bool) {
	last, found := -1, false
	for index := range f.Chunks {
		if index > last {
			last, found = index, true
		}
	}

	return last, found
}
