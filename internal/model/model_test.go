package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFolderRef(t *testing.T) {
	assert.Equal(t, FolderTrash, ParseFolderRef("recently_deleted").Kind)
	assert.Equal(t, FolderAll, ParseFolderRef("all_recordings").Kind)

	ref := ParseFolderRef("f1")
	assert.Equal(t, FolderNormal, ref.Kind)
	assert.Equal(t, "f1", ref.ID())
	assert.True(t, ref.IsReal())

	assert.False(t, TrashFolder.IsReal())
	assert.False(t, AllFolder.IsReal())
	assert.Equal(t, "recently_deleted", TrashFolder.ID())
	assert.True(t, IsReservedFolderID(" all_recordings "))
	assert.False(t, IsReservedFolderID("work"))
}

func TestRecordingValidate(t *testing.T) {
	now := time.Now()
	orig := "f1"

	valid := &Recording{ID: "r1", FileSizeBytes: 10, Duration: time.Second}
	require.NoError(t, valid.Validate())

	deleted := &Recording{ID: "r2", FileSizeBytes: 10, IsDeleted: true, DeletedAt: &now, OriginalFolderID: &orig}
	require.NoError(t, deleted.Validate())

	cases := map[string]*Recording{
		"missing id":          {FileSizeBytes: 10},
		"zero size":           {ID: "x"},
		"negative duration":   {ID: "x", FileSizeBytes: 1, Duration: -1},
		"deleted without at":  {ID: "x", FileSizeBytes: 1, IsDeleted: true},
		"at without deleted":  {ID: "x", FileSizeBytes: 1, DeletedAt: &now},
		"origin on live item": {ID: "x", FileSizeBytes: 1, OriginalFolderID: &orig},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, rec.Validate())
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := "f1"
	r := &Recording{ID: "r", Tags: []string{"a"}, DeletedAt: &now, OriginalFolderID: &orig}
	c := r.Clone()
	c.Tags[0] = "b"
	*c.OriginalFolderID = "f2"
	assert.Equal(t, "a", r.Tags[0])
	assert.Equal(t, "f1", *r.OriginalFolderID)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"idea", "work"}, NormalizeTags([]string{" work", "idea", "work", ""}))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("WAV")
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, f)

	_, err = ParseFormat("mp3")
	assert.Equal(t, KindInvalidConfiguration, KindOf(err))
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("saving: %w", E(KindDatabase, "could not save recording", cause))

	assert.Equal(t, KindDatabase, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, &Error{Kind: KindDatabase}))
	assert.False(t, errors.Is(err, &Error{Kind: KindBusy}))

	assert.Equal(t, KindUnexpected, KindOf(errors.New("plain")))
	assert.Nil(t, Wrap(nil))
	assert.Equal(t, KindUnexpected, KindOf(Wrap(errors.New("plain"))))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "could not save recording", e.UserMessage())
	assert.True(t, e.Retryable())
}
