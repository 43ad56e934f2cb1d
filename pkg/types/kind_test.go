package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForPath(t *testing.T) {
	tests := []struct {
		path string
		want FileKind
	}{
		{"/home/u/notes.txt", KindText},
		{"/home/u/README.md", KindText},
		{"/src/main.go", KindCode},
		{"/src/APP.PY", KindCode}, // extension match is case-insensitive
		{"/docs/report.pdf", KindDocument},
		{"/pics/cat.JPG", KindImage},
		{"/music/song.mp3", KindAudio},
		{"/vids/clip.mp4", KindVideo},
		{"/backups/old.tar", KindArchive},
		{"/etc/hosts", KindUnknown},
		{"noext", KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindForPath(tt.path), tt.path)
	}
}

func TestIsTextual(t *testing.T) {
	assert.True(t, KindText.IsTextual())
	assert.True(t, KindCode.IsTextual())
	assert.True(t, KindDocument.IsTextual())
	assert.False(t, KindImage.IsTextual())
	assert.False(t, KindAudio.IsTextual())
	assert.False(t, KindUnknown.IsTextual())
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindImage.Valid())
	assert.True(t, KindUnknown.Valid())
	assert.False(t, FileKind("pictures").Valid())
}
