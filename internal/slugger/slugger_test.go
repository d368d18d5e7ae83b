package slugger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	cases := map[string]string{
		"Lập trình Go cơ bản":   "lap-trinh-go-co-ban",
		"Đại số tuyến tính":     "dai-so-tuyen-tinh",
		"Hello,   World!":       "hello-world",
		"  --Trimmed--  ":       "trimmed",
		"C++ nâng cao (2024)":   "c-nang-cao-2024",
		"UPPER lower 123":       "upper-lower-123",
	}

	for in, want := range cases {
		assert.Equal(t, want, Make(in), "input %q", in)
	}
}

func TestAllocateFreeBase(t *testing.T) {
	exists := func(ctx context.Context, slug string) (bool, error) {
		return false, nil
	}

	slug, err := Allocate(context.Background(), "Giới thiệu", exists)
	require.NoError(t, err)
	assert.Equal(t, "gioi-thieu", slug)
}

func TestAllocateProbesSuffixes(t *testing.T) {
	taken := map[string]bool{
		"gioi-thieu":   true,
		"gioi-thieu-1": true,
	}
	exists := func(ctx context.Context, slug string) (bool, error) {
		return taken[slug], nil
	}

	slug, err := Allocate(context.Background(), "Giới thiệu", exists)
	require.NoError(t, err)
	assert.Equal(t, "gioi-thieu-2", slug)
}

func TestAllocateScopesAreIndependent(t *testing.T) {
	// The same name under two different parents may both receive the bare
	// slug, because each parent supplies its own existence scope.
	scopeA := map[string]bool{}
	scopeB := map[string]bool{}

	allocInto := func(scope map[string]bool, name string) string {
		slug, err := Allocate(context.Background(), name, func(ctx context.Context, s string) (bool, error) {
			return scope[s], nil
		})
		require.NoError(t, err)
		scope[slug] = true
		return slug
	}

	first := allocInto(scopeA, "Bài mở đầu")
	second := allocInto(scopeA, "Bài mở đầu")
	other := allocInto(scopeB, "Bài mở đầu")

	assert.Equal(t, "bai-mo-dau", first)
	assert.Equal(t, "bai-mo-dau-1", second)
	assert.Equal(t, "bai-mo-dau", other)
}

func TestAllocateEmptyName(t *testing.T) {
	exists := func(ctx context.Context, slug string) (bool, error) {
		return false, nil
	}

	slug, err := Allocate(context.Background(), "???", exists)
	require.NoError(t, err)
	assert.Equal(t, "untitled", slug)
}
