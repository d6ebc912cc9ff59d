package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 5, Pagination{PageSize: 5}.Limit())
}

func TestTrimAndBeforeID(t *testing.T) {
	rows := []int64{50, 40, 30, 20}
	page, info := Trim(rows, 3, func(v int64) string { return strconv.FormatInt(v, 10) })
	assert.Equal(t, []int64{50, 40, 30}, page)
	require.True(t, info.HasMore)

	before, err := Pagination{PageToken: info.NextPageToken}.BeforeID()
	require.NoError(t, err)
	assert.Equal(t, int64(30), before)

	page, info = Trim(rows[3:], 3, func(v int64) string { return strconv.FormatInt(v, 10) })
	assert.Len(t, page, 1)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestBeforeIDRejectsGarbage(t *testing.T) {
	_, err := Pagination{PageToken: "%%%"}.BeforeID()
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	token, err := EncodeCursor(Cursor{ID: "abc"})
	require.NoError(t, err)
	_, err = Pagination{PageToken: token}.BeforeID()
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}
