package dedup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pixelforge/remedy/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash("TypeError: x is undefined", "at render (app.js:10:5)", "/studio/generate")
	b := Hash("TypeError: x is undefined", "at render (app.js:10:5)", "/studio/generate")
	assert.Equal(t, a, b, "identical inputs must produce identical hashes")
	assert.Len(t, a, 64, "hash should be a fixed-length hex digest")
}

func TestHashEmptyInputs(t *testing.T) {
	h := Hash("", "", "")
	assert.Len(t, h, 64, "empty signal must still hash")
	assert.Equal(t, h, Hash("  ", "\n", ""), "whitespace-only signal normalizes to the empty signal")
}

func TestHashIgnoresVolatileStackParts(t *testing.T) {
	stackA := "at generate (/home/ci/build/src/pipeline.ts:341:17)\nat run (/home/ci/build/src/queue.ts:88:3)"
	stackB := "at generate (/Users/dev/work/src/pipeline.ts:12:1)\nat run (/Users/dev/work/src/queue.ts:9:22)"

	assert.Equal(t,
		Hash("boom", stackA, "/studio"),
		Hash("boom", stackB, "/studio"),
		"different build paths and line numbers must hash identically")
}

func TestHashWindowsPaths(t *testing.T) {
	stackA := `at render (C:\build\agent\src\canvas.ts:5:1)`
	stackB := `at render (D:\ci\work\src\canvas.ts:99:40)`
	assert.Equal(t, Hash("boom", stackA, "/x"), Hash("boom", stackB, "/x"))
}

func TestHashRouteCaseInsensitive(t *testing.T) {
	assert.Equal(t,
		Hash("boom", "", "/Studio/Generate"),
		Hash("boom", "", "/studio/generate"))
	assert.NotEqual(t,
		Hash("boom", "", "/studio/generate"),
		Hash("boom", "", "/studio/upscale"),
		"different routes must hash differently")
}

func TestHashDistinguishesFields(t *testing.T) {
	// Field boundaries matter: message "ab"+stack "c" is not message "a"+stack "bc"
	assert.NotEqual(t, Hash("ab", "c", ""), Hash("a", "bc", ""))
}

func TestNormalizeStack(t *testing.T) {
	tests := []struct {
		name  string
		stack string
		want  string
	}{
		{"empty", "", ""},
		{"strips line and column", "at f (app.js:10:5)", "at f (app.js)"},
		{"strips unix dirs", "at f (/srv/app/dist/main.js)", "at f (main.js)"},
		{"collapses blank lines", "at f (a.js)\n\n  at g (b.js)  \n", "at f (a.js)\nat g (b.js)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStack(tt.stack))
		})
	}
}

func TestIndexResolve(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewStorage(ctx, &storage.Config{
		Path: filepath.Join(t.TempDir(), "remedy.db"),
	})
	require.NoError(t, err)
	defer store.Close()

	index, err := NewIndex(store)
	require.NoError(t, err)

	hash := Hash("boom", "at f (a.js:1:1)", "/studio")

	first, err := index.Resolve(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 1, first.OccurrenceCount)

	// Same normalized content resolved twice: same group, count bumped by exactly 1
	second, err := index.ResolveSignal(ctx, "boom", "at f (a.js:99:2)", "/Studio")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.OccurrenceCount)
}
