package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaginationParamsDefaults(t *testing.T) {
	params, err := ParsePaginationParams("", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPage, params.Page)
	assert.Equal(t, DefaultLimit, params.Limit)
	assert.Equal(t, 0, params.Offset)
	assert.Equal(t, "desc", params.SortOrder)
}

func TestParsePaginationParamsClampsBounds(t *testing.T) {
	params, err := ParsePaginationParams("3", "500", "", "asc")
	require.NoError(t, err)
	assert.Equal(t, 3, params.Page)
	assert.Equal(t, MaxLimit, params.Limit)
	assert.Equal(t, 2*MaxLimit, params.Offset)
	assert.Equal(t, "asc", params.SortOrder)

	params, err = ParsePaginationParams("0", "0", "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPage, params.Page)
	assert.Equal(t, MinLimit, params.Limit)
}

func TestParsePaginationParamsRejectsNonNumeric(t *testing.T) {
	_, err := ParsePaginationParams("first", "", "", "")
	require.Error(t, err)

	_, err = ParsePaginationParams("", "many", "", "")
	require.Error(t, err)
}

func TestBuildPaginationResponse(t *testing.T) {
	params := &PaginationParams{Page: 2, Limit: 20, Offset: 20}
	resp := BuildPaginationResponse(params, 45, []string{"a", "b"})

	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 20, resp.Limit)
	assert.Equal(t, int64(45), resp.Total)
	assert.Equal(t, 3, resp.TotalPages)
	assert.Equal(t, []string{"a", "b"}, resp.Data)
}
