package synonym

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/weave/internal/core/werr"
)

func TestTable_RegisterAndTranslate(t *testing.T) {
	tbl := New()

	name, err := tbl.Register("lights", "/plugins/hue/lights/state")
	require.NoError(t, err)
	assert.Equal(t, "/synonyms/lights", name)

	assert.Equal(t, "/plugins/hue/lights/state", tbl.Translate("/synonyms/lights"))
	assert.Equal(t, "/other", tbl.Translate("/other"), "unknown names pass through")
	assert.Equal(t, "lights", tbl.Translate("lights"), "bare alias is not translated")
}

func TestTable_RegisterCollision(t *testing.T) {
	tbl := New()

	_, err := tbl.Register("/x", "/a")
	require.NoError(t, err)

	_, err = tbl.Register("x", "/b")
	assert.ErrorIs(t, err, werr.ErrAlreadyExists)
	assert.Equal(t, "/a", tbl.Translate("/synonyms/x"))
}

func TestTable_RegisterEmpty(t *testing.T) {
	_, err := New().Register("/", "/a")
	assert.ErrorIs(t, err, werr.ErrProtocol)
}

func TestAliasPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"x", "/synonyms/x"},
		{"/x", "/synonyms/x"},
		{"//a/b", "/synonyms/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, AliasPath(tt.in))
		})
	}
}

func TestTable_List(t *testing.T) {
	tbl := New()
	_, _ = tbl.Register("b", "/2")
	_, _ = tbl.Register("a", "/1")

	assert.Equal(t, []Entry{
		{Alias: "/synonyms/a", Target: "/1"},
		{Alias: "/synonyms/b", Target: "/2"},
	}, tbl.List())
}
